package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Black-prog/CanScan/internal/logging"
	"github.com/Black-prog/CanScan/internal/preprocess"
)

// RESTClient calls a model server's JSON predict endpoint. The model is
// loaded by the server from a fixed artifact and is immutable for the
// process lifetime; this client only submits tensors and reads score vectors.
type RESTClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

type predictRequest struct {
	Instances [][][][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// NewRESTClient probes the model server for readiness and returns a client
// bound to the named model. A server that is not reachable at startup is a
// fatal configuration problem, so this fails fast.
func NewRESTClient(ctx context.Context, baseURL, model string, logger *zap.Logger) (*RESTClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("model server URL is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	c := &RESTClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.Named("model_client"),
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.probe(probeCtx); err != nil {
		wrapped := logging.NewOperationError("classifier.dial_model_server", "", err)
		c.logger.Error("model server not ready", zap.Error(wrapped), zap.String("url", baseURL))
		return nil, wrapped
	}
	return c, nil
}

// Predict submits one tensor and returns the score vector for it.
func (c *RESTClient) Predict(ctx context.Context, t *preprocess.Tensor) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Instances: t.Values})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/models/%s:predict", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, logging.NewOperationError("classifier.predict", "", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, logging.NewOperationError("classifier.predict", "",
			fmt.Errorf("model server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var decoded predictResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, logging.NewOperationError("classifier.predict", "", err)
	}
	if decoded.Error != "" {
		return nil, logging.NewOperationError("classifier.predict", "", fmt.Errorf("model server error: %s", decoded.Error))
	}
	if len(decoded.Predictions) == 0 {
		return nil, logging.NewOperationError("classifier.predict", "", fmt.Errorf("model server returned no predictions"))
	}
	return decoded.Predictions[0], nil
}

func (c *RESTClient) probe(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/models/%s", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model status endpoint returned %d", resp.StatusCode)
	}
	return nil
}
