package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/model"
)

// Authorities used by the studio tools.
const (
	AuthReadClients   = "READ_CLIENTS"
	AuthCreateLead    = "CREATE_LEAD"
	AuthCreateInvoice = "CREATE_INVOICE"
	AuthSendInvoice   = "SEND_INVOICE"
	AuthSendEmail     = "SEND_EMAIL"
	AuthUpdateClient  = "UPDATE_CLIENT"
)

// NewRegistry registers every studio tool against crm.
func NewRegistry(crm *CRM) (*dispatch.Registry, error) {
	return dispatch.NewRegistry(Tools(crm)...)
}

// Tools returns the studio tool set bound to crm.
func Tools(crm *CRM) []dispatch.Tool {
	return []dispatch.Tool{
		{
			Name:        "list_clients",
			Description: "List studio clients.",
			Schema:      json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"additionalProperties":false}`),
			Governance:  dispatch.Governance{Authority: AuthReadClients, Risk: model.RiskLow},
			Handler:     crm.listClients,
		},
		{
			Name:        "create_lead",
			Description: "Create a sales lead.",
			Schema: json.RawMessage(`{
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"email": {"type": "string"},
					"source": {"type": "string"}
				},
				"additionalProperties": false
			}`),
			Governance: dispatch.Governance{Authority: AuthCreateLead, Table: "leads", Risk: model.RiskLow},
			Handler:    crm.createLead,
		},
		{
			Name:        "create_invoice",
			Description: "Draft an invoice for a client.",
			Schema: json.RawMessage(`{
				"type": "object",
				"required": ["client_id", "total"],
				"properties": {
					"client_id": {"type": "string"},
					"total": {"type": "number", "minimum": 0},
					"currency": {"type": "string", "minLength": 3, "maxLength": 3},
					"memo": {"type": "string"}
				},
				"additionalProperties": false
			}`),
			Governance: dispatch.Governance{Authority: AuthCreateInvoice, Table: "invoices", AmountField: "total", Risk: model.RiskMed},
			Handler:    crm.createInvoice,
		},
		{
			Name:        "send_invoice",
			Description: "Email a drafted invoice to its client.",
			Schema: json.RawMessage(`{
				"type": "object",
				"required": ["invoice_id"],
				"properties": {"invoice_id": {"type": "string"}},
				"additionalProperties": false
			}`),
			Governance: dispatch.Governance{Authority: AuthSendInvoice, Action: "send_invoice", Risk: model.RiskMed},
			Handler:    crm.sendInvoice,
		},
		{
			Name:        "send_email",
			Description: "Send an email from the studio mailbox.",
			Schema: json.RawMessage(`{
				"type": "object",
				"required": ["to", "subject", "body"],
				"properties": {
					"to": {"type": "string", "minLength": 3},
					"subject": {"type": "string"},
					"body": {"type": "string"}
				},
				"additionalProperties": false
			}`),
			Governance: dispatch.Governance{Authority: AuthSendEmail, EmailField: "to", Risk: model.RiskMed},
			Handler:    crm.sendEmail,
		},
		{
			Name:        "update_client",
			Description: "Update fields on a client record.",
			Schema: json.RawMessage(`{
				"type": "object",
				"required": ["client_id", "fields"],
				"properties": {
					"client_id": {"type": "string"},
					"fields": {"type": "object", "minProperties": 1}
				},
				"additionalProperties": false
			}`),
			Governance: dispatch.Governance{Authority: AuthUpdateClient, Table: "clients", FieldsField: "fields", Risk: model.RiskMed},
			Handler:    crm.updateClient,
		},
	}
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func (c *CRM) listClients(ctx context.Context, args map[string]any, tc dispatch.ToolContext) (dispatch.Outcome, error) {
	query := strings.ToLower(str(args, "query"))
	var out []Client
	for _, cl := range c.Clients() {
		if query == "" || strings.Contains(strings.ToLower(cl.Name), query) {
			out = append(out, cl)
		}
	}
	return dispatch.Done(out), nil
}

func (c *CRM) createLead(ctx context.Context, args map[string]any, tc dispatch.ToolContext) (dispatch.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	email := str(args, "email")
	if email != "" {
		for _, l := range c.leads {
			if strings.EqualFold(l.Email, email) {
				return dispatch.Refuse(fmt.Sprintf("Lead with email %s already exists.", email)), nil
			}
		}
	}
	l := &Lead{
		ID:     c.nextID("lead"),
		Name:   str(args, "name"),
		Email:  email,
		Source: str(args, "source"),
		Owner:  tc.ActorID,
	}
	c.leads[l.ID] = l
	return dispatch.Done(*l), nil
}

func (c *CRM) createInvoice(ctx context.Context, args map[string]any, tc dispatch.ToolContext) (dispatch.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clientID := str(args, "client_id")
	if _, ok := c.clients[clientID]; !ok {
		return dispatch.Refuse(fmt.Sprintf("Unknown client %s.", clientID)), nil
	}
	total, ok := args["total"].(float64)
	if !ok {
		return dispatch.Outcome{}, fmt.Errorf("total must be a number, got %T", args["total"])
	}
	currency := strings.ToUpper(str(args, "currency"))
	if currency == "" {
		currency = "EUR"
	}
	inv := &Invoice{
		ID:       c.nextID("inv"),
		ClientID: clientID,
		Total:    total,
		Currency: currency,
		Memo:     str(args, "memo"),
	}
	c.invoices[inv.ID] = inv
	return dispatch.Done(*inv), nil
}

func (c *CRM) sendInvoice(ctx context.Context, args map[string]any, tc dispatch.ToolContext) (dispatch.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inv, ok := c.invoices[str(args, "invoice_id")]
	if !ok {
		return dispatch.Refuse(fmt.Sprintf("Unknown invoice %s.", str(args, "invoice_id"))), nil
	}
	if inv.SentAt != nil {
		return dispatch.Refuse("Invoice already sent."), nil
	}
	cl := c.clients[inv.ClientID]
	if cl == nil || cl.Email == "" {
		return dispatch.Refuse("Client has no billing email."), nil
	}
	before := *inv
	now := c.now().UTC()
	inv.SentAt = &now
	c.outbox = append(c.outbox, Email{
		To:      cl.Email,
		Subject: fmt.Sprintf("Invoice %s", inv.ID),
		Body:    fmt.Sprintf("Amount due: %s %s", model.FormatNumber(inv.Total), inv.Currency),
		SentAt:  now,
	})
	return dispatch.Changed(before, *inv), nil
}

func (c *CRM) sendEmail(ctx context.Context, args map[string]any, tc dispatch.ToolContext) (dispatch.Outcome, error) {
	to := str(args, "to")
	if !strings.Contains(to, "@") {
		return dispatch.Refuse(fmt.Sprintf("Invalid recipient %q.", to)), nil
	}
	if err := ctx.Err(); err != nil {
		return dispatch.Outcome{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := Email{To: to, Subject: str(args, "subject"), Body: str(args, "body"), SentAt: c.now().UTC()}
	c.outbox = append(c.outbox, e)
	return dispatch.Done(e), nil
}

func (c *CRM) updateClient(ctx context.Context, args map[string]any, tc dispatch.ToolContext) (dispatch.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clientID := str(args, "client_id")
	cl, ok := c.clients[clientID]
	if !ok {
		return dispatch.Refuse(fmt.Sprintf("Unknown client %s.", clientID)), nil
	}
	fields, _ := args["fields"].(map[string]any)

	next := *cl
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, ok := fields[name].(string)
		if !ok {
			return dispatch.Refuse(fmt.Sprintf("Field %s must be a string.", name)), nil
		}
		switch name {
		case "name":
			next.Name = v
		case "email":
			next.Email = v
		case "phone":
			next.Phone = v
		case "tax_id":
			next.TaxID = v
		case "iban":
			next.IBAN = v
		case "notes":
			next.Notes = v
		default:
			return dispatch.Refuse(fmt.Sprintf("Unknown client field %s.", name)), nil
		}
	}
	before := *cl
	*cl = next
	return dispatch.Changed(before, next), nil
}
