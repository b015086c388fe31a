package notify

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

// Renderer turns a notification into customer-facing text.
type Renderer struct {
	printer *message.Printer
}

func NewRenderer(tag language.Tag) *Renderer {
	return &Renderer{printer: message.NewPrinter(tag)}
}

func (r *Renderer) amount(raw string) string {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	f, _ := d.Round(2).Float64()
	return r.printer.Sprintf("₹%.2f", f)
}

// Render returns the message body for n.
func (r *Renderer) Render(n ports.Notification) string {
	d := n.Data
	switch n.Kind {
	case ports.NotifyOrderPlaced:
		return r.printer.Sprintf("Order %s placed for %s.", d["order_number"], r.amount(d["amount"]))
	case ports.NotifyOrderConfirmed:
		return r.printer.Sprintf("Payment received. Order %s is confirmed.", d["order_number"])
	case ports.NotifyPaymentFailed:
		return r.printer.Sprintf("Payment for order %s failed. You can retry from your orders page.", d["order_number"])
	case ports.NotifyOrderRefunded:
		return r.printer.Sprintf("Order %s was refunded. %s will be credited to you.", d["order_number"], r.amount(d["amount"]))
	case ports.NotifyOrderStatusChanged:
		return r.printer.Sprintf("Order %s is now %s.", d["order_number"], d["status"])
	case ports.NotifySubscriptionDelivered:
		return r.printer.Sprintf("Your subscription delivery %s is on its way. Next delivery on %s.", d["order_number"], d["next_delivery_date"])
	case ports.NotifySubscriptionChanged:
		return r.printer.Sprintf("Your subscription is now %s.", d["status"])
	default:
		return r.printer.Sprintf("Update on %s.", n.EntityID)
	}
}
