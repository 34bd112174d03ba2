// Package codec converts binary attachment payloads (photos, media) to and
// from the text-safe form stored inside the durable store. Encoding happens
// at enqueue time; decoding is deferred to drain time so large buffers are
// not kept in memory while an item waits in the queue.
package codec

import (
	"encoding/base64"
	"fmt"

	"github.com/tbourn/go-contact-sync/internal/domain"
)

// EncodeAttachment wraps raw bytes into a stored attachment, retaining the
// original name, MIME type, and byte size alongside the encoded data.
func EncodeAttachment(name, mimeType string, data []byte) domain.Attachment {
	return domain.Attachment{
		Name:     name,
		MIMEType: mimeType,
		ByteSize: len(data),
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// DecodeAttachment restores the original bytes of a stored attachment.
// The decoded length must match the recorded ByteSize; a mismatch means
// the stored record was corrupted or truncated.
func DecodeAttachment(att domain.Attachment) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %q: %w", att.Name, err)
	}
	if len(data) != att.ByteSize {
		return nil, fmt.Errorf("attachment %q: decoded %d bytes, recorded %d", att.Name, len(data), att.ByteSize)
	}
	return data, nil
}

// DecodeAll decodes every attachment of a payload, failing on the first
// corrupted entry.
func DecodeAll(atts []domain.Attachment) ([][]byte, error) {
	if len(atts) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(atts))
	for _, att := range atts {
		data, err := DecodeAttachment(att)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
