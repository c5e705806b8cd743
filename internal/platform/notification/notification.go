// Package notification delivers in-app notifications to portal users, with
// template rendering for the events the portal emits (access requests,
// consent decisions, appointment changes, finalized notes).
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification by the event that produced it.
type Kind string

const (
	KindAccessRequested Kind = "access_requested"
	KindConsentGranted  Kind = "consent_granted"
	KindConsentDenied   Kind = "consent_denied"
	KindAppointment     Kind = "appointment"
	KindNoteFinalized   Kind = "note_finalized"
)

// Notification is a single in-app message addressed to a portal user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound is returned when a notification id does not exist for the user.
var ErrNotFound = errors.New("notification not found")

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	Kind  Kind
	Title string
	Body  string
}

var builtinTemplates = map[Kind]Template{
	KindAccessRequested: {
		Kind:  KindAccessRequested,
		Title: "Access request from {{doctor_name}}",
		Body:  "Dr. {{doctor_name}} has requested access to your record {{transaction_id}}. Review the request in your consent settings.",
	},
	KindConsentGranted: {
		Kind:  KindConsentGranted,
		Title: "Access granted",
		Body:  "{{patient_name}} granted you access to their records.",
	},
	KindConsentDenied: {
		Kind:  KindConsentDenied,
		Title: "Access denied",
		Body:  "{{patient_name}} denied your access request.",
	},
	KindAppointment: {
		Kind:  KindAppointment,
		Title: "Appointment {{status}}",
		Body:  "Your appointment on {{date}} with {{counterpart}} is now {{status}}.",
	},
	KindNoteFinalized: {
		Kind:  KindNoteFinalized,
		Title: "Consultation note available",
		Body:  "Dr. {{doctor_name}} finalized the note for your appointment on {{date}}.",
	},
}

func render(tpl Template, data map[string]string) (title, body string) {
	title, body = tpl.Title, tpl.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body
}

// Center stores and serves notifications. Storage is in-memory; the portal
// treats notifications as best-effort and they do not survive a restart.
type Center struct {
	mu     sync.RWMutex
	byUser map[string][]*Notification
	byID   map[string]*Notification
}

func NewCenter() *Center {
	return &Center{
		byUser: make(map[string][]*Notification),
		byID:   make(map[string]*Notification),
	}
}

// Notify renders the template for kind and stores the result for userID.
func (c *Center) Notify(_ context.Context, userID string, kind Kind, data map[string]string) (*Notification, error) {
	tpl, ok := builtinTemplates[kind]
	if !ok {
		return nil, fmt.Errorf("unknown notification kind %q", kind)
	}
	title, body := render(tpl, data)

	n := &Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.byUser[userID] = append(c.byUser[userID], n)
	c.byID[n.ID] = n
	c.mu.Unlock()

	return n, nil
}

// ListForUser returns the user's notifications, newest first, up to limit.
func (c *Center) ListForUser(_ context.Context, userID string, limit int) []*Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.byUser[userID]
	out := make([]*Notification, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MarkRead marks a notification as read. The user must own it.
func (c *Center) MarkRead(_ context.Context, userID, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.byID[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// UnreadCount returns the number of unread notifications for the user.
func (c *Center) UnreadCount(_ context.Context, userID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, n := range c.byUser[userID] {
		if !n.Read {
			count++
		}
	}
	return count
}
