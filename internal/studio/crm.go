// Package studio is an in-memory studio back office (clients, leads,
// invoices, outbound mail) exposed as governed tools. It backs the demo
// server, the scenario runner and the tests.
package studio

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	TaxID string `json:"tax_id,omitempty"`
	IBAN  string `json:"iban,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type Lead struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source,omitempty"`
	Owner  string `json:"owner,omitempty"`
}

type Invoice struct {
	ID       string     `json:"id"`
	ClientID string     `json:"client_id"`
	Total    float64    `json:"total"`
	Currency string     `json:"currency"`
	Memo     string     `json:"memo,omitempty"`
	SentAt   *time.Time `json:"sent_at,omitempty"`
}

type Email struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// CRM holds the back-office state. Safe for concurrent use.
type CRM struct {
	mu       sync.Mutex
	clients  map[string]*Client
	leads    map[string]*Lead
	invoices map[string]*Invoice
	outbox   []Email
	seq      map[string]int
	now      func() time.Time
}

// NewCRM returns an empty CRM.
func NewCRM() *CRM {
	return &CRM{
		clients:  make(map[string]*Client),
		leads:    make(map[string]*Lead),
		invoices: make(map[string]*Invoice),
		seq:      make(map[string]int),
		now:      time.Now,
	}
}

// NewDemoCRM returns a CRM with two clients, used by `actiongate serve --demo`.
func NewDemoCRM() *CRM {
	c := NewCRM()
	c.AddClient(Client{Name: "Northwind Studio", Email: "billing@northwind.io", TaxID: "DE811907980", IBAN: "DE89370400440532013000"})
	c.AddClient(Client{Name: "Blue Fern Bakery", Email: "hello@bluefern.co"})
	return c
}

func (c *CRM) nextID(prefix string) string {
	c.seq[prefix]++
	return fmt.Sprintf("%s-%d", prefix, c.seq[prefix])
}

// AddClient stores a copy of cl with a fresh id and returns it.
func (c *CRM) AddClient(cl Client) Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl.ID = c.nextID("cli")
	stored := cl
	c.clients[cl.ID] = &stored
	return cl
}

// Client returns a copy of the client with the given id.
func (c *CRM) Client(id string) (Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.clients[id]
	if !ok {
		return Client{}, false
	}
	return *cl, true
}

// Clients returns every client ordered by id.
func (c *CRM) Clients() []Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Client, 0, len(c.clients))
	for _, cl := range c.clients {
		out = append(out, *cl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Invoice returns a copy of the invoice with the given id.
func (c *CRM) Invoice(id string) (Invoice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inv, ok := c.invoices[id]
	if !ok {
		return Invoice{}, false
	}
	return *inv, true
}

// Leads returns every lead ordered by id.
func (c *CRM) Leads() []Lead {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Lead, 0, len(c.leads))
	for _, l := range c.leads {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Outbox returns every email sent so far, oldest first.
func (c *CRM) Outbox() []Email {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Email(nil), c.outbox...)
}
