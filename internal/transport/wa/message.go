package wa

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/LeventeLantos/whatsapp-relay/internal/transport"
)

var ErrNoMedia = errors.New("message has no downloadable media")

func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	wm, err := c.connected()
	if err != nil {
		return "", err
	}
	jid, err := parseAddress(to)
	if err != nil {
		return "", err
	}

	resp, err := wm.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) SendMedia(ctx context.Context, to string, media transport.Media, caption string) (string, error) {
	wm, err := c.connected()
	if err != nil {
		return "", err
	}
	jid, err := parseAddress(to)
	if err != nil {
		return "", err
	}

	up, err := wm.Upload(ctx, media.Data, uploadType(media.Kind))
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", media.Kind, err)
	}

	msg := buildMediaMessage(media, caption, up)
	resp, err := wm.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) DownloadMedia(ctx context.Context, msg transport.Message) (transport.Media, error) {
	wm, err := c.connected()
	if err != nil {
		return transport.Media{}, err
	}
	raw, ok := msg.Raw.(*waE2E.Message)
	if !ok || raw == nil {
		return transport.Media{}, ErrNoMedia
	}

	var (
		dl    whatsmeow.DownloadableMessage
		media transport.Media
	)
	switch {
	case raw.GetImageMessage() != nil:
		m := raw.GetImageMessage()
		dl, media = m, transport.Media{Kind: transport.MediaImage, MimeType: m.GetMimetype()}
	case raw.GetVideoMessage() != nil:
		m := raw.GetVideoMessage()
		dl, media = m, transport.Media{Kind: transport.MediaVideo, MimeType: m.GetMimetype()}
	case raw.GetAudioMessage() != nil:
		m := raw.GetAudioMessage()
		dl, media = m, transport.Media{Kind: transport.MediaAudio, MimeType: m.GetMimetype()}
	case raw.GetDocumentMessage() != nil:
		m := raw.GetDocumentMessage()
		dl, media = m, transport.Media{Kind: transport.MediaDocument, MimeType: m.GetMimetype(), FileName: m.GetFileName()}
	default:
		return transport.Media{}, ErrNoMedia
	}

	data, err := wm.Download(ctx, dl)
	if err != nil {
		return transport.Media{}, fmt.Errorf("download %s: %w", media.Kind, err)
	}
	media.Data = data
	return media, nil
}

func uploadType(kind transport.MediaKind) whatsmeow.MediaType {
	switch kind {
	case transport.MediaImage:
		return whatsmeow.MediaImage
	case transport.MediaVideo:
		return whatsmeow.MediaVideo
	case transport.MediaAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildMediaMessage(media transport.Media, caption string, up whatsmeow.UploadResponse) *waE2E.Message {
	switch media.Kind {
	case transport.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case transport.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case transport.MediaAudio:
		// Audio has no caption field.
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(media.MimeType),
			FileName:      proto.String(media.FileName),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
}

func convertMessage(evt *events.Message) transport.Message {
	raw := evt.Message
	return transport.Message{
		ID:        evt.Info.ID,
		Chat:      evt.Info.Chat.String(),
		Sender:    evt.Info.Sender.String(),
		Text:      messageText(raw),
		FromMe:    evt.Info.IsFromMe,
		HasMedia:  hasMedia(raw),
		Timestamp: evt.Info.Timestamp,
		Raw:       raw,
	}
}

func messageText(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage().GetCaption() != "":
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage().GetCaption() != "":
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

func hasMedia(m *waE2E.Message) bool {
	return m.GetImageMessage() != nil ||
		m.GetVideoMessage() != nil ||
		m.GetAudioMessage() != nil ||
		m.GetDocumentMessage() != nil
}
