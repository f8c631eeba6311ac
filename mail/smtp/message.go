package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	netmail "net/mail"
	"net/textproto"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/bulkmail/mail"
)

const base64LineLength = 76

// buildMessage builds the raw RFC 5322 message.
// Without attachments the body is multipart/alternative (or a single text part);
// with attachments it is wrapped into multipart/mixed.
func buildMessage(email mail.Email, now time.Time) ([]byte, error) {
	if err := email.CheckHeaders(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	writeHeader(&buf, "From", formatAddress(email.From))
	if len(email.To) > 0 {
		writeHeader(&buf, "To", formatAddressList(email.To))
	}
	if len(email.Cc) > 0 {
		writeHeader(&buf, "Cc", formatAddressList(email.Cc))
	}
	if len(email.ReplyTo) > 0 {
		writeHeader(&buf, "Reply-To", formatAddressList(email.ReplyTo))
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", email.Subject))
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))

	keys := make([]string, 0, len(email.Headers))
	for k := range email.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		writeHeader(&buf, k, email.Headers[k])
	}

	if len(email.Attachments) == 0 {
		header, body, err := buildBody(email)
		if err != nil {
			return nil, err
		}
		writeHeader(&buf, "Content-Type", header.Get("Content-Type"))
		if enc := header.Get("Content-Transfer-Encoding"); enc != "" {
			writeHeader(&buf, "Content-Transfer-Encoding", enc)
		}
		buf.WriteString("\r\n")
		buf.Write(body)
		return buf.Bytes(), nil
	}

	mixed := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", "multipart/mixed; boundary="+mixed.Boundary())
	buf.WriteString("\r\n")

	header, body, err := buildBody(email)
	if err != nil {
		return nil, err
	}
	part, err := mixed.CreatePart(header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create body part")
	}
	if _, err := part.Write(body); err != nil {
		return nil, errors.Wrap(err, "failed to write body part")
	}

	for _, a := range email.Attachments {
		if err := writeAttachment(mixed, a); err != nil {
			return nil, errors.Wrapf(err, "failed to attach %q", a.Filename)
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to close multipart writer")
	}
	return buf.Bytes(), nil
}

// buildBody returns the body headers and content: a single text part when only one
// of Body/HTML is set, otherwise multipart/alternative with the plain part first.
func buildBody(email mail.Email) (textproto.MIMEHeader, []byte, error) {
	if email.HTML == "" {
		return textPart("text/plain", email.Body)
	}
	if email.Body == "" {
		return textPart("text/html", email.HTML)
	}

	var buf bytes.Buffer
	alt := multipart.NewWriter(&buf)
	for _, p := range []struct{ typ, content string }{
		{"text/plain", email.Body},
		{"text/html", email.HTML},
	} {
		header, content, err := textPart(p.typ, p.content)
		if err != nil {
			return nil, nil, err
		}
		w, err := alt.CreatePart(header)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create alternative part")
		}
		if _, err := w.Write(content); err != nil {
			return nil, nil, errors.Wrap(err, "failed to write alternative part")
		}
	}
	if err := alt.Close(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to close alternative writer")
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "multipart/alternative; boundary="+alt.Boundary())
	return header, buf.Bytes(), nil
}

func textPart(contentType, content string) (textproto.MIMEHeader, []byte, error) {
	var buf bytes.Buffer
	w := quotedprintable.NewWriter(&buf)
	if _, err := w.Write([]byte(content)); err != nil {
		return nil, nil, errors.Wrap(err, "failed to encode text part")
	}
	if err := w.Close(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to encode text part")
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType+"; charset=UTF-8")
	header.Set("Content-Transfer-Encoding", "quoted-printable")
	return header, buf.Bytes(), nil
}

func writeAttachment(w *multipart.Writer, a mail.Attachment) error {
	contentType := a.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(a.Filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := filepath.Base(a.Filename)

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", mime.FormatMediaType(contentType, map[string]string{"name": name}))
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	header.Set("Content-Transfer-Encoding", "base64")

	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(a.Content)
	for len(encoded) > base64LineLength {
		if _, err := fmt.Fprintf(part, "%s\r\n", encoded[:base64LineLength]); err != nil {
			return err
		}
		encoded = encoded[base64LineLength:]
	}
	_, err = fmt.Fprintf(part, "%s\r\n", encoded)
	return err
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

// formatAddress formats a single address, quoting and encoding the display name when needed.
func formatAddress(addr mail.Address) string {
	if addr.Name == "" {
		return addr.Address
	}
	return (&netmail.Address{Name: addr.Name, Address: addr.Address}).String()
}

// formatAddressList formats a list of addresses.
func formatAddressList(addrs []mail.Address) string {
	formatted := make([]string, len(addrs))
	for i, addr := range addrs {
		formatted[i] = formatAddress(addr)
	}
	return strings.Join(formatted, ", ")
}

// getEmailAddresses extracts bare addresses for the SMTP envelope.
func getEmailAddresses(addrs []mail.Address) []string {
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.Address != "" {
			result = append(result, addr.Address)
		}
	}
	return result
}
