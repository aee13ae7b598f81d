// ABOUTME: Reply messages produced by handlers and their XML serialization
// ABOUTME: Text, Image, News, the bare "success" acknowledgement, and pre-serialized Raw replies

package message

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// SuccessText is the acknowledgement body the platform accepts when there is
// nothing to reply.
const SuccessText = "success"

// Response is a reply produced by a handler.
type Response interface {
	// Serialize renders the reply in the wire format.
	Serialize() (string, error)
	// EncryptionRequired reports whether the reply must be sealed in the
	// envelope before it is sent (when the integration has one).
	EncryptionRequired() bool
}

// Header carries the addressing fields shared by every reply.
type Header struct {
	ToUserName   string
	FromUserName string
	CreateTime   int64
}

// replyHeader addresses a reply back to the sender of req.
func replyHeader(req *Request) Header {
	return Header{
		ToUserName:   req.FromUserName,
		FromUserName: req.ToUserName,
		CreateTime:   time.Now().Unix(),
	}
}

func (h Header) document(msgType string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	root := doc.CreateElement("xml")
	root.CreateElement("ToUserName").CreateCData(h.ToUserName)
	root.CreateElement("FromUserName").CreateCData(h.FromUserName)
	root.CreateElement("CreateTime").SetText(strconv.FormatInt(h.CreateTime, 10))
	root.CreateElement("MsgType").CreateCData(msgType)
	return doc, root
}

func write(doc *etree.Document) (string, error) {
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serializing reply: %w", err)
	}
	return out, nil
}

// Text is a plain text reply.
type Text struct {
	Header
	Content string
}

// ReplyText builds a text reply to req.
func ReplyText(req *Request, content string) *Text {
	return &Text{Header: replyHeader(req), Content: content}
}

func (t *Text) Serialize() (string, error) {
	doc, root := t.document(MsgTypeText)
	root.CreateElement("Content").CreateCData(t.Content)
	return write(doc)
}

func (t *Text) EncryptionRequired() bool { return true }

// Image replies with previously uploaded media.
type Image struct {
	Header
	MediaID string
}

// ReplyImage builds an image reply to req.
func ReplyImage(req *Request, mediaID string) *Image {
	return &Image{Header: replyHeader(req), MediaID: mediaID}
}

func (i *Image) Serialize() (string, error) {
	doc, root := i.document(MsgTypeImage)
	root.CreateElement("Image").CreateElement("MediaId").CreateCData(i.MediaID)
	return write(doc)
}

func (i *Image) EncryptionRequired() bool { return true }

// Article is one entry of a News reply.
type Article struct {
	Title       string
	Description string
	PicURL      string
	URL         string
}

// News is a rich link-card reply.
type News struct {
	Header
	Articles []Article
}

// ReplyNews builds a news reply to req.
func ReplyNews(req *Request, articles ...Article) *News {
	return &News{Header: replyHeader(req), Articles: articles}
}

func (n *News) Serialize() (string, error) {
	doc, root := n.document("news")
	root.CreateElement("ArticleCount").SetText(strconv.Itoa(len(n.Articles)))
	list := root.CreateElement("Articles")
	for _, a := range n.Articles {
		item := list.CreateElement("item")
		item.CreateElement("Title").CreateCData(a.Title)
		item.CreateElement("Description").CreateCData(a.Description)
		item.CreateElement("PicUrl").CreateCData(a.PicURL)
		item.CreateElement("Url").CreateCData(a.URL)
	}
	return write(doc)
}

func (n *News) EncryptionRequired() bool { return true }

// Success acknowledges a message without replying to the user.
type Success struct{}

func (Success) Serialize() (string, error) { return SuccessText, nil }

func (Success) EncryptionRequired() bool { return false }

// Raw is an already-serialized reply. Persistent caches rehydrate committed
// responses as Raw.
type Raw struct {
	Text    string
	Encrypt bool
}

func (r *Raw) Serialize() (string, error) { return r.Text, nil }

func (r *Raw) EncryptionRequired() bool { return r.Encrypt }
