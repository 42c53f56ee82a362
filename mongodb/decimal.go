package mongodb

import (
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

// Registry is the BSON registry of the client: the driver defaults plus money
// amounts stored as Decimal128.
func Registry() *bson.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bson.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bson.ValueDecoderFunc(decodeDecimal))
	return reg
}

func encodeDecimal(_ bson.EncodeContext, vw bson.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return fmt.Errorf("encodeDecimal: unexpected value %v", val)
	}
	d := val.Interface().(decimal.Decimal)
	d128, err := bson.ParseDecimal128(d.String())
	if err != nil {
		return fmt.Errorf("encode amount %s: %w", d.String(), err)
	}
	return vw.WriteDecimal128(d128)
}

// decodeDecimal also accepts doubles, integers and strings so documents
// written before amounts were Decimal128 still load.
func decodeDecimal(_ bson.DecodeContext, vr bson.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return fmt.Errorf("decodeDecimal: cannot set value of type %v", val.Type())
	}

	var (
		d   decimal.Decimal
		err error
	)
	switch vr.Type() {
	case bson.TypeDecimal128:
		var d128 bson.Decimal128
		if d128, err = vr.ReadDecimal128(); err == nil {
			d, err = decimal.NewFromString(d128.String())
		}
	case bson.TypeDouble:
		var f float64
		if f, err = vr.ReadDouble(); err == nil {
			d = decimal.NewFromFloat(f)
		}
	case bson.TypeInt32:
		var i int32
		if i, err = vr.ReadInt32(); err == nil {
			d = decimal.NewFromInt32(i)
		}
	case bson.TypeInt64:
		var i int64
		if i, err = vr.ReadInt64(); err == nil {
			d = decimal.NewFromInt(i)
		}
	case bson.TypeString:
		var s string
		if s, err = vr.ReadString(); err == nil {
			d, err = decimal.NewFromString(s)
		}
	case bson.TypeNull:
		err = vr.ReadNull()
	default:
		return fmt.Errorf("cannot decode %v into an amount", vr.Type())
	}
	if err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	val.Set(reflect.ValueOf(d))
	return nil
}
