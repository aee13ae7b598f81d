// ABOUTME: Sample business handlers selectable per integration in the config
// ABOUTME: echo replies to text with the same text; success acknowledges everything

package handlers

import (
	"context"
	"fmt"

	"github.com/2389/wxcallback/internal/message"
	"github.com/2389/wxcallback/internal/messaging"
)

// Reply modes accepted by ForName.
const (
	ReplyEcho    = "echo"
	ReplySuccess = "success"
)

// Echo answers text messages with their own content and acknowledges
// everything else.
type Echo struct{}

func (Echo) Handle(_ context.Context, req *message.Request) (message.Response, error) {
	if req.MsgType != message.MsgTypeText {
		return message.Success{}, nil
	}
	return message.ReplyText(req, req.Content), nil
}

// Success acknowledges every message without replying.
type Success struct{}

func (Success) Handle(context.Context, *message.Request) (message.Response, error) {
	return message.Success{}, nil
}

// ForName returns the factory for a configured reply mode.
func ForName(name string) (messaging.HandlerFactory, error) {
	switch name {
	case ReplyEcho:
		return messaging.Singleton(Echo{}), nil
	case ReplySuccess, "":
		return messaging.Singleton(Success{}), nil
	default:
		return nil, fmt.Errorf("unknown reply mode %q", name)
	}
}
