package agentapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	xerrors "AgentStudio/internal/errors"
)

// UploadTarget is a one-time write location issued by the backend.
type UploadTarget struct {
	Key       string `json:"key"`
	SignedURL string `json:"signedUrl"`
}

// AttachmentRegistration announces that the object at Key is ready.
type AttachmentRegistration struct {
	Key      string `json:"key"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// Attachment is a persisted reference to an uploaded file.
type Attachment struct {
	ID string `json:"id"`
}

// ProgressFunc receives byte-level transfer progress.
type ProgressFunc func(sent, total int64)

// RequestUploadTarget asks the backend for a signed upload URL.
func (c *Client) RequestUploadTarget(ctx context.Context) (UploadTarget, error) {
	var target UploadTarget
	if err := c.post(ctx, "/api/attachments/upload-url", nil, &target); err != nil {
		return UploadTarget{}, err
	}
	if target.Key == "" || target.SignedURL == "" {
		return UploadTarget{}, xerrors.New(xerrors.CodeDecode, "upload target response is missing key or signedUrl")
	}
	return target, nil
}

// TransferObject streams size bytes from body to the signed URL with a PUT.
// onProgress may be nil.
func (c *Client) TransferObject(ctx context.Context, signedURL string, body io.Reader, size int64, onProgress ProgressFunc) error {
	parsed, err := url.Parse(signedURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid signed url %q", signedURL))
	}
	reader := &progressReader{reader: body, total: size, onProgress: onProgress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, parsed.String(), reader)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "create upload request")
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return xerrors.Transport(err, "network error during upload")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.Wrap(xerrors.CodeServer, decodeAPIError(resp), fmt.Sprintf("upload failed (%d)", resp.StatusCode))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// RegisterAttachment records the uploaded object as an attachment.
func (c *Client) RegisterAttachment(ctx context.Context, reg AttachmentRegistration) (Attachment, error) {
	if reg.Key == "" {
		return Attachment{}, xerrors.New(xerrors.CodeInvalidArgument, "attachment key is required")
	}
	if reg.MimeType == "" {
		reg.MimeType = "application/octet-stream"
	}
	var att Attachment
	if err := c.post(ctx, "/api/attachments", reg, &att); err != nil {
		return Attachment{}, err
	}
	if att.ID == "" {
		return Attachment{}, xerrors.New(xerrors.CodeDecode, "attachment response is missing id")
	}
	return att, nil
}

// progressReader reports the number of bytes handed to the transport.
type progressReader struct {
	reader     io.Reader
	total      int64
	sent       int64
	onProgress ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.onProgress != nil {
			r.onProgress(r.sent, r.total)
		}
	}
	return n, err
}
