// Package message turns pushed payloads into canonical events.
//
// Three payload shapes are recognized, checked in this order:
//
//  1. flat: the event fields sit on the top-level object;
//  2. message-nested: the event is the object (or JSON string) under "message";
//  3. data-nested: the event is the object under "data".
//
// A top-level "type" alone does not make a payload flat: brokers wrap events
// in typed envelopes, so the nested shapes are tried first. A typed object
// with no nested event is still read as flat.
//
// Numbers are kept as json.Number so large numeric ids survive intact.
// Anything else becomes a synthetic ERROR event carrying the raw payload.
package message

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

type shape int

const (
	shapeNone shape = iota
	shapeFlat
	shapeMessage
	shapeData
)

// semanticKeys are the fields that make an object an event on its own.
var semanticKeys = []string{"module", "action", "entityType", "entityId"}

var decoder = sonic.Config{UseNumber: true}.Froze()

// Normalizer converts raw frames into domain events. The zero value is ready
// to use and stamps events lacking a timestamp with time.Now.
type Normalizer struct {
	Now func() time.Time
}

var std Normalizer

// Normalize converts raw using the default Normalizer.
func Normalize(raw []byte) domain.Event { return std.Normalize(raw) }

// Normalize never fails. Unreadable payloads yield an ERROR event.
func (n Normalizer) Normalize(raw []byte) (ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			ev = n.errorEvent(raw, fmt.Sprintf("normalize: %v", r))
		}
	}()

	var outer map[string]any
	if err := decoder.Unmarshal(raw, &outer); err != nil {
		return n.errorEvent(raw, "payload is not a JSON object")
	}
	if outer == nil {
		return n.errorEvent(raw, "payload is empty")
	}
	body, sh := classify(outer)
	if sh == shapeNone {
		return n.errorEvent(raw, "unrecognized payload shape")
	}
	return n.build(outer, body, sh)
}

func classify(outer map[string]any) (map[string]any, shape) {
	if hasAny(outer, semanticKeys...) {
		return outer, shapeFlat
	}
	if inner, ok := nestedObject(outer["message"]); ok && looksLikeEvent(inner) {
		return inner, shapeMessage
	}
	if inner, ok := nestedObject(outer["data"]); ok && looksLikeEvent(inner) {
		return inner, shapeData
	}
	if hasAny(outer, "type") {
		return outer, shapeFlat
	}
	return nil, shapeNone
}

func looksLikeEvent(obj map[string]any) bool {
	return hasAny(obj, semanticKeys...) || hasAny(obj, "type")
}

func hasAny(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return true
		}
	}
	return false
}

// nestedObject accepts an object or a string holding a JSON object; some
// brokers double-encode the inner event.
func nestedObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "{") {
			return nil, false
		}
		var obj map[string]any
		if err := decoder.UnmarshalFromString(s, &obj); err != nil || obj == nil {
			return nil, false
		}
		return obj, true
	}
	return nil, false
}

func (n Normalizer) build(outer, body map[string]any, sh shape) domain.Event {
	ev := domain.Event{
		Type:       upperOr(body["type"], domain.EventTypeMessage),
		Module:     upperOr(body["module"], domain.Unknown),
		Action:     upperOr(body["action"], domain.Unknown),
		EntityType: upperOr(body["entityType"], domain.Unknown),
		EntityID:   idOf(body["entityId"]),
		Data:       dataOf(body["data"]),
		UserID:     idOf(body["userId"]),
		Message:    textOf(body["message"]),
	}
	ts, hasTS := body["timestamp"]
	if sh != shapeFlat {
		if _, ok := body["type"].(string); !ok {
			ev.Type = upperOr(outer["type"], domain.EventTypeMessage)
		}
		if ev.UserID == nil {
			ev.UserID = idOf(outer["userId"])
		}
		if !hasTS || ts == nil {
			ts = outer["timestamp"]
		}
	}
	ev.Timestamp = n.timestamp(ts)
	return ev
}

func (n Normalizer) errorEvent(raw []byte, reason string) domain.Event {
	return domain.Event{
		Type:       domain.EventTypeError,
		Module:     domain.Unknown,
		Action:     domain.Unknown,
		EntityType: domain.Unknown,
		Data:       map[string]any{"raw": string(raw)},
		Timestamp:  n.now(),
		Message:    &reason,
	}
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now().UTC()
	}
	return time.Now().UTC()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (n Normalizer) timestamp(v any) time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC()
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	case json.Number:
		if ms, err := t.Int64(); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		if f, err := t.Float64(); err == nil && !math.IsInf(f, 0) {
			return time.UnixMilli(int64(f)).UTC()
		}
	case float64:
		if !math.IsNaN(t) && !math.IsInf(t, 0) {
			return time.UnixMilli(int64(t)).UTC()
		}
	}
	return n.now()
}

func upperOr(v any, def string) string {
	s, ok := v.(string)
	if !ok {
		return def
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s
}

func idOf(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

func textOf(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func dataOf(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return t
	default:
		return map[string]any{"value": t}
	}
}
