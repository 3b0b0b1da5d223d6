package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/corpchat/chatsync/internal/chaterr"
)

// UploadFile sends file content as a multipart/form-data POST with a
// single "file" part (plus the owning chat id) and returns the
// server-assigned file id for use in a subsequent send.
func (c *Client) UploadFile(ctx context.Context, fileName string, content io.Reader, chatID int) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", chaterr.Network("build multipart body", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", chaterr.Network("read file content", err)
	}
	if err := mw.WriteField("chat_id", strconv.Itoa(chatID)); err != nil {
		return "", chaterr.Network("build multipart body", err)
	}
	if err := mw.Close(); err != nil {
		return "", chaterr.Network("finalize multipart body", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/file/upload_file/chat/", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", chaterr.Network("upload file", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", chaterr.ServerStatus("upload file", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", chaterr.Network("read upload response", err)
	}

	var result struct {
		FileID string `json:"file_id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", chaterr.Decoding("upload response", err)
	}
	if result.FileID == "" {
		return "", chaterr.Decoding(fmt.Sprintf("upload response without file_id: %s", truncateBody(data)), nil)
	}
	return result.FileID, nil
}

func truncateBody(data []byte) string {
	const max = 128
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max])
}
