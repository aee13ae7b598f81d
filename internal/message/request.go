// ABOUTME: Inbound callback message parsed from the platform's XML wire format
// ABOUTME: Computes the deduplication key that stays stable across redeliveries

package message

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// ErrMalformedMessage is returned when a message body cannot be parsed.
var ErrMalformedMessage = errors.New("malformed message")

// MsgType values used by the sample handlers.
const (
	MsgTypeText  = "text"
	MsgTypeImage = "image"
	MsgTypeEvent = "event"
)

// Request is one decoded inbound message. It is immutable after Parse.
type Request struct {
	ToUserName   string
	FromUserName string
	CreateTime   int64
	MsgType      string
	MsgID        string // empty for events
	Event        string // set when MsgType is "event"
	EventKey     string
	Content      string // set for text messages

	fields map[string]string
}

// Parse decodes a plaintext message document.
func Parse(text string) (*Request, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "xml" {
		return nil, fmt.Errorf("%w: expected <xml> root element", ErrMalformedMessage)
	}

	fields := make(map[string]string)
	collectFields(root, "", fields)

	for _, name := range []string{"ToUserName", "FromUserName", "CreateTime", "MsgType"} {
		if fields[name] == "" {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedMessage, name)
		}
	}

	createTime, err := strconv.ParseInt(strings.TrimSpace(fields["CreateTime"]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid CreateTime %q", ErrMalformedMessage, fields["CreateTime"])
	}

	return &Request{
		ToUserName:   fields["ToUserName"],
		FromUserName: fields["FromUserName"],
		CreateTime:   createTime,
		MsgType:      fields["MsgType"],
		MsgID:        strings.TrimSpace(fields["MsgId"]),
		Event:        fields["Event"],
		EventKey:     fields["EventKey"],
		Content:      fields["Content"],
		fields:       fields,
	}, nil
}

// collectFields flattens leaf elements into dotted paths, e.g.
// "ScanCodeInfo.ScanResult".
func collectFields(el *etree.Element, prefix string, out map[string]string) {
	for _, child := range el.ChildElements() {
		name := child.Tag
		if prefix != "" {
			name = prefix + "." + child.Tag
		}
		if len(child.ChildElements()) > 0 {
			collectFields(child, name, out)
			continue
		}
		out[name] = child.Text()
	}
}

// Field returns the raw text of a message field by element name (dotted for
// nested elements). Missing fields return "".
func (r *Request) Field(name string) string {
	return r.fields[name]
}

// Fields returns a copy of every parsed field.
func (r *Request) Fields() map[string]string {
	out := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Time returns CreateTime as a time.Time.
func (r *Request) Time() time.Time {
	return time.Unix(r.CreateTime, 0)
}

// IsEvent reports whether the message is an event push rather than a user message.
func (r *Request) IsEvent() bool {
	return r.MsgType == MsgTypeEvent
}

// GetDuplicationKey identifies one logical message occurrence. Keys are
// scoped to the receiving account so integrations can share one cache.
// Ordinary messages carry a MsgId; events do not, so they are keyed by
// sender, creation time and event name.
func (r *Request) GetDuplicationKey() string {
	if r.MsgID != "" {
		return "msg:" + r.ToUserName + ":" + r.FromUserName + ":" + r.MsgID
	}
	return "event:" + r.ToUserName + ":" + r.FromUserName + ":" + strconv.FormatInt(r.CreateTime, 10) + ":" + r.Event
}
