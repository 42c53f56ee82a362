package mercadopago

import "net/url"

const defaultCheckoutBase = "https://www.mercadopago.com.br/subscriptions/checkout"

// CheckoutURL is the hosted page where a payer subscribes to a preapproval plan.
func CheckoutURL(planID string) string {
	if planID == "" {
		return ""
	}
	return defaultCheckoutBase + "?preapproval_plan_id=" + url.QueryEscape(planID)
}
