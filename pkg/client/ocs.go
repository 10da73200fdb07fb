package client

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
)

// OCS speaks the legacy XML protocol: PROLOG handshake and XML inventory
// submission against pre-GLPI inventory servers.
type OCS struct {
	*Client
	deviceID string
}

// NewOCS builds a legacy XML protocol client.
func NewOCS(opts Options, deviceID string) (*OCS, error) {
	base, err := New(opts)
	if err != nil {
		return nil, err
	}
	return &OCS{Client: base, deviceID: deviceID}, nil
}

// PrologResponse is a parsed PROLOG reply.
type PrologResponse struct {
	XMLName    xml.Name `xml:"REPLY"`
	Response   string   `xml:"RESPONSE"`
	PrologFreq int      `xml:"PROLOG_FREQ"`
}

type prologRequest struct {
	XMLName  xml.Name `xml:"REQUEST"`
	DeviceID string   `xml:"DEVICEID"`
	Query    string   `xml:"QUERY"`
}

// Prolog performs the legacy handshake and returns the parsed reply.
func (o *OCS) Prolog(ctx context.Context, serverURL string) (*PrologResponse, error) {
	body, err := xml.Marshal(prologRequest{DeviceID: o.deviceID, Query: "PROLOG"})
	if err != nil {
		return nil, err
	}
	raw, err := o.post(ctx, serverURL, append([]byte(xml.Header), body...))
	if err != nil {
		return nil, err
	}

	var reply PrologResponse
	if err := xml.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("malformed prolog reply: %w: %s", err, excerpt(raw))
	}
	return &reply, nil
}

// SendInventory submits a serialized XML inventory envelope.
func (o *OCS) SendInventory(ctx context.Context, serverURL string, envelope []byte) error {
	_, err := o.post(ctx, serverURL, envelope)
	return err
}

func (o *OCS) post(ctx context.Context, serverURL string, payload []byte) ([]byte, error) {
	body, contentType, err := o.compress(payload, "application/xml")
	if err != nil {
		return nil, fmt.Errorf("failed to compress request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, serverURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, raw, err := o.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server answered %s: %s", resp.Status, excerpt(raw))
	}
	return raw, nil
}
