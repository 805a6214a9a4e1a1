package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"finitefield.org/hanko-storefront/internal/cart"
	"finitefield.org/hanko-storefront/internal/domain"
)

type cartLineView struct {
	ProductID    string  `json:"product_id" yaml:"product_id"`
	ServerItemID string  `json:"server_item_id,omitempty" yaml:"server_item_id,omitempty"`
	Name         string  `json:"name" yaml:"name"`
	UnitPrice    float64 `json:"unit_price" yaml:"unit_price"`
	Quantity     int     `json:"quantity" yaml:"quantity"`
	Stock        int     `json:"stock" yaml:"stock"`
	Subtotal     float64 `json:"subtotal" yaml:"subtotal"`
}

type cartView struct {
	Items        []cartLineView `json:"items" yaml:"items"`
	Total        float64        `json:"total" yaml:"total"`
	TotalDisplay string         `json:"total_display" yaml:"total_display"`
	Error        string         `json:"error,omitempty" yaml:"error,omitempty"`
}

type identityView struct {
	Status  domain.IdentityStatus `json:"status" yaml:"status"`
	User    *domain.User          `json:"user,omitempty" yaml:"user,omitempty"`
	Message string                `json:"message,omitempty" yaml:"message,omitempty"`
}

type printer struct {
	w      io.Writer
	format string
	unit   currency.Unit
	hasISO bool
	local  *message.Printer
}

func newPrinter(w io.Writer, format string, tag language.Tag, code string) *printer {
	p := &printer{w: w, format: format, local: message.NewPrinter(tag)}
	if unit, err := currency.ParseISO(code); err == nil {
		p.unit, p.hasISO = unit, true
	}
	return p
}

// amount renders m in the configured currency, falling back to a plain decimal.
func (p *printer) amount(m domain.Money) string {
	if !p.hasISO {
		return m.String()
	}
	return p.local.Sprint(currency.Symbol(p.unit.Amount(m.Decimal())))
}

func (p *printer) cart(snapshot cart.Snapshot) error {
	view := cartView{
		Items:        make([]cartLineView, 0, len(snapshot.Items)),
		Total:        snapshot.Total.Decimal(),
		TotalDisplay: p.amount(snapshot.Total),
		Error:        snapshot.Error,
	}
	for _, item := range snapshot.Items {
		view.Items = append(view.Items, cartLineView{
			ProductID:    item.ProductID,
			ServerItemID: item.ServerItemID,
			Name:         item.Name,
			UnitPrice:    item.UnitPrice.Decimal(),
			Quantity:     item.Quantity,
			Stock:        item.StockCeiling,
			Subtotal:     item.Subtotal().Decimal(),
		})
	}
	if p.format != "text" {
		return p.encode(view)
	}

	if len(snapshot.Items) == 0 {
		fmt.Fprintln(p.w, "Cart is empty.")
	} else {
		tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PRODUCT\tNAME\tQTY\tSTOCK\tSUBTOTAL")
		for _, item := range snapshot.Items {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", item.ProductID, item.Name, item.Quantity, item.StockCeiling, p.amount(item.Subtotal()))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintf(p.w, "Total: %s\n", view.TotalDisplay)
	if snapshot.Error != "" {
		fmt.Fprintf(p.w, "Error: %s\n", snapshot.Error)
	}
	return nil
}

func (p *printer) identity(identity domain.Identity) error {
	view := identityView{Status: identity.Status, User: identity.User, Message: identity.Message}
	if p.format != "text" {
		return p.encode(view)
	}
	switch {
	case identity.Status == domain.IdentityAuthenticated && identity.User != nil:
		name := identity.User.Username
		if name == "" {
			name = "user " + identity.User.ID
		}
		fmt.Fprintf(p.w, "Signed in as %s\n", name)
	case identity.Message != "":
		fmt.Fprintf(p.w, "%s: %s\n", identity.Status, identity.Message)
	default:
		fmt.Fprintf(p.w, "Not signed in (%s)\n", identity.Status)
	}
	return nil
}

func (p *printer) encode(v any) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(p.w, strings.TrimSpace(fmt.Sprint(v)))
		return err
	}
}
