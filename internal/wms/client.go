// Package wms talks to the Warehouse Management System's HTTP API: polling
// for new shipment/transfer commands and reporting completed commands back,
// the Go analogue of the original's wms_module/wms_client.py and
// wms_module/wms_integration.py.
package wms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shuttlegw/gateway/internal/config"
	"github.com/shuttlegw/gateway/internal/metrics"
	"github.com/shuttlegw/gateway/internal/shuttle"
)

// CommandMapping translates a WMS shuttleCommand string onto a shuttle
// CommandType, mirroring wms_client.py's command_mapping dict.
var CommandMapping = map[string]shuttle.CommandType{
	"PALLET_IN":  shuttle.PalletIn,
	"PALLET_OUT": shuttle.PalletOut,
	"FIFO":       shuttle.Fifo,
	"FILO":       shuttle.Filo,
	"STACK_IN":   shuttle.StackIn,
	"STACK_OUT":  shuttle.StackOut,
	"HOME":       shuttle.Home,
	"COUNT":      shuttle.Count,
	"STATUS":     shuttle.StatusCmd,
}

// DocumentLine is one line item within a shipment or transfer document.
type DocumentLine struct {
	ExternalID     string `json:"externalId"`
	ShuttleCommand string `json:"shuttleCommand"`
	Cell           string `json:"cell"`
	Params         string `json:"params"`
}

// Document is one shipment or transfer record returned by getObject.
type Document struct {
	ExternalID    string         `json:"externalId"`
	Warehouse     string         `json:"warehouse"`
	ShipmentLine  []DocumentLine `json:"shipmentLine"`
	TransferLine  []DocumentLine `json:"transferLine"`
}

type shipmentListResponse struct {
	Shipment []struct {
		ExternalID string `json:"externalId"`
	} `json:"shipment"`
}

type transferListResponse struct {
	Transfer []struct {
		ExternalID string `json:"externalId"`
	} `json:"transfer"`
}

type shipmentObjectResponse struct {
	Shipment []Document `json:"shipment"`
}

type transferObjectResponse struct {
	Transfer []Document `json:"transfer"`
}

// Client is a thin HTTP client for the WMS's IncomeApi action endpoints.
type Client struct {
	httpClient *http.Client
	apiURL     string
	username   string
	password   string
	webhookURL string

	lastPollTime time.Time
}

// NewClient builds a Client from WMSConfig, starting its poll window 30
// minutes in the past the way wms_client.py's __init__ does.
func NewClient(cfg config.WMSConfig) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		apiURL:       strings.TrimRight(cfg.APIURL, "/"),
		username:     cfg.Username,
		password:     cfg.Password,
		webhookURL:   cfg.WebhookURL,
		lastPollTime: time.Now().Add(-30 * time.Minute),
	}
}

func (c *Client) authHeader() string {
	raw := fmt.Sprintf("%s:%s", c.username, c.password)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func (c *Client) do(ctx context.Context, method, rawURL string, body any, out any) (int, error) {
	var reqBody *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = strings.NewReader(string(data))
	} else {
		reqBody = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("wms request to %s returned %d", rawURL, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response from %s: %w", rawURL, err)
		}
	}
	return resp.StatusCode, nil
}

const timeLayout = "2006-01-02T15:04:05"

func (c *Client) periodParams(now time.Time) string {
	return fmt.Sprintf("p=%s&p=%s",
		url.QueryEscape(c.lastPollTime.Format(timeLayout)),
		url.QueryEscape(now.Format(timeLayout)))
}

// GetShipmentCommands fetches shipment externalIds reported since the last
// poll, mirroring get_shipment_commands.
func (c *Client) GetShipmentCommands(ctx context.Context, now time.Time) ([]string, error) {
	rawURL := fmt.Sprintf("%s/exec?action=IncomeApi.getShipmentStatusesPeriod&%s", c.apiURL, c.periodParams(now))
	var resp shipmentListResponse
	_, err := c.do(ctx, http.MethodGet, rawURL, nil, &resp)
	metrics.RecordWMSRequest("get_shipment_commands", outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Shipment))
	for _, s := range resp.Shipment {
		ids = append(ids, s.ExternalID)
	}
	return ids, nil
}

// GetTransferCommands fetches transfer externalIds, mirroring
// get_transfer_commands.
func (c *Client) GetTransferCommands(ctx context.Context, now time.Time) ([]string, error) {
	rawURL := fmt.Sprintf("%s/exec?action=IncomeApi.getTransferStatusesPeriod&%s", c.apiURL, c.periodParams(now))
	var resp transferListResponse
	_, err := c.do(ctx, http.MethodGet, rawURL, nil, &resp)
	metrics.RecordWMSRequest("get_transfer_commands", outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Transfer))
	for _, t := range resp.Transfer {
		ids = append(ids, t.ExternalID)
	}
	return ids, nil
}

// GetCommandDetails fetches the full document for one external ID, mirroring
// get_command_details.
func (c *Client) GetCommandDetails(ctx context.Context, externalID, documentType string) (Document, bool, error) {
	rawURL := fmt.Sprintf("%s/exec?action=IncomeApi.getObject&p=%s&p=%s", c.apiURL, url.QueryEscape(documentType), url.QueryEscape(externalID))

	var doc Document
	var err error
	switch documentType {
	case "shipment":
		var resp shipmentObjectResponse
		_, err = c.do(ctx, http.MethodGet, rawURL, nil, &resp)
		if err == nil && len(resp.Shipment) > 0 {
			doc = resp.Shipment[0]
		}
	case "transfer":
		var resp transferObjectResponse
		_, err = c.do(ctx, http.MethodGet, rawURL, nil, &resp)
		if err == nil && len(resp.Transfer) > 0 {
			doc = resp.Transfer[0]
		}
	default:
		return Document{}, false, fmt.Errorf("unknown document type %q", documentType)
	}
	metrics.RecordWMSRequest("get_command_details_"+documentType, outcomeLabel(err))
	if err != nil {
		return Document{}, false, err
	}
	return doc, doc.ExternalID != "" || len(doc.ShipmentLine) > 0 || len(doc.TransferLine) > 0, nil
}

// UpdateStatus reports a command's terminal status back to the WMS,
// mirroring update_status.
func (c *Client) UpdateStatus(ctx context.Context, externalID, documentType, status string) error {
	rawURL := fmt.Sprintf("%s/exec?action=IncomeApi.insertUpdate", c.apiURL)

	var body map[string]any
	switch documentType {
	case "shipment":
		body = map[string]any{"shipment": []map[string]any{{
			"externalId": externalID,
			"shipmentLine": []map[string]any{{
				"externalId":      externalID,
				"quantityShipped": 1,
				"status":          status,
			}},
		}}}
	case "transfer":
		body = map[string]any{"transfer": []map[string]any{{
			"externalId": externalID,
			"transferLine": []map[string]any{{
				"externalId":           externalID,
				"quantityTransferred": 1,
				"status":               status,
			}},
		}}}
	default:
		return fmt.Errorf("unknown document type %q", documentType)
	}

	_, err := c.do(ctx, http.MethodPost, rawURL, body, nil)
	metrics.RecordWMSRequest("update_status_"+documentType, outcomeLabel(err))
	return err
}

// webhookPayload mirrors send_webhook's payload shape.
type webhookPayload struct {
	ShuttleID  string  `json:"shuttle_id"`
	Message    string  `json:"message"`
	Status     string  `json:"status"`
	ErrorCode  *string `json:"error_code"`
	ExternalID *string `json:"external_id"`
	Timestamp  float64 `json:"timestamp"`
}

// SendWebhook posts a shuttle event to the configured WMS webhook URL, a
// no-op when none is configured.
func (c *Client) SendWebhook(ctx context.Context, shuttleID, message, status string, errorCode, externalID *string) error {
	if c.webhookURL == "" {
		return nil
	}
	payload := webhookPayload{
		ShuttleID:  shuttleID,
		Message:    message,
		Status:     status,
		ErrorCode:  errorCode,
		ExternalID: externalID,
		Timestamp:  float64(time.Now().UnixMilli()) / 1000,
	}
	_, err := c.do(ctx, http.MethodPost, c.webhookURL, payload, nil)
	metrics.RecordWMSRequest("webhook", outcomeLabel(err))
	return err
}

// AdvancePollWindow moves the poll window forward, mirroring the
// integration loop's last_poll_time = datetime.now() assignment.
func (c *Client) AdvancePollWindow(now time.Time) {
	c.lastPollTime = now
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
