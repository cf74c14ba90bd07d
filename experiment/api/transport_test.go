package api_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/absmach/fedsim"
	"github.com/absmach/fedsim/experiment/api"
	"github.com/absmach/fedsim/experiment/mocks"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const validConfig = `{
	"experiment": {"seed": 1, "rounds": 2, "clients_per_round": 2},
	"task": {"model_id": "2nn", "only_digits": true, "use_synthetic_data": true},
	"train_client_spec": {"num_epochs": 1, "batch_size": 10, "max_elements": -1}
}`

const validTOML = `
[experiment]
rounds = 2
clients_per_round = 2

[task]
model_id = "2nn"
use_synthetic_data = true
`

func newServer(t *testing.T) (*httptest.Server, *mocks.Service) {
	t.Helper()

	svc := new(mocks.Service)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(api.MakeHandler(svc, logger, "test"))
	t.Cleanup(ts.Close)

	return ts, svc
}

func do(t *testing.T, method, url, contentType, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })

	return res
}

func TestCreateExperiment(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc        string
		contentType string
		body        string
		svcErr      error
		code        int
	}{
		{desc: "json", contentType: "application/json", body: validConfig, code: http.StatusCreated},
		{desc: "toml", contentType: api.TOMLContentType, body: validTOML, code: http.StatusCreated},
		{desc: "unsupported content type", contentType: "text/plain", body: validConfig, code: http.StatusUnsupportedMediaType},
		{desc: "malformed json", contentType: "application/json", body: "{", code: http.StatusBadRequest},
		{desc: "invalid model", contentType: "application/json", body: strings.Replace(validConfig, `"2nn"`, `"unsupported_model"`, 1), code: http.StatusBadRequest},
		{desc: "service error", contentType: "application/json", body: validConfig, svcErr: pkgerrors.ErrEntityExists, code: http.StatusConflict},
	}

	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			t.Parallel()
			ts, svc := newServer(t)
			exp := fedsim.Experiment{ID: "e1", Name: "brave-turing"}
			svc.On("CreateExperiment", mock.Anything, mock.Anything).Return(exp, c.svcErr)

			res := do(t, http.MethodPost, ts.URL+"/experiments", c.contentType, c.body)
			assert.Equal(t, c.code, res.StatusCode)
			if c.code == http.StatusCreated {
				assert.Equal(t, "/experiments/e1", res.Header.Get("Location"))
				var got fedsim.Experiment
				require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
				assert.Equal(t, exp.ID, got.ID)
			}
		})
	}
}

func TestExperimentRoutes(t *testing.T) {
	t.Parallel()

	exp := fedsim.Experiment{ID: "e1", Status: fedsim.Running}
	cases := []struct {
		desc   string
		method string
		path   string
		setup  func(*mocks.Service)
		code   int
	}{
		{
			desc:   "get",
			method: http.MethodGet,
			path:   "/experiments/e1",
			setup:  func(s *mocks.Service) { s.On("GetExperiment", mock.Anything, "e1").Return(exp, nil) },
			code:   http.StatusOK,
		},
		{
			desc:   "get missing",
			method: http.MethodGet,
			path:   "/experiments/e2",
			setup: func(s *mocks.Service) {
				s.On("GetExperiment", mock.Anything, "e2").Return(fedsim.Experiment{}, pkgerrors.ErrNotFound)
			},
			code: http.StatusNotFound,
		},
		{
			desc:   "list",
			method: http.MethodGet,
			path:   "/experiments?offset=1&limit=5",
			setup: func(s *mocks.Service) {
				s.On("ListExperiments", mock.Anything, uint64(1), uint64(5)).Return(fedsim.ExperimentPage{Offset: 1, Limit: 5}, nil)
			},
			code: http.StatusOK,
		},
		{
			desc:   "list over limit",
			method: http.MethodGet,
			path:   "/experiments?limit=1000",
			setup:  func(*mocks.Service) {},
			code:   http.StatusBadRequest,
		},
		{
			desc:   "list bad offset",
			method: http.MethodGet,
			path:   "/experiments?offset=minus",
			setup:  func(*mocks.Service) {},
			code:   http.StatusBadRequest,
		},
		{
			desc:   "run",
			method: http.MethodPost,
			path:   "/experiments/e1/run",
			setup:  func(s *mocks.Service) { s.On("RunExperiment", mock.Anything, "e1").Return(exp, nil) },
			code:   http.StatusAccepted,
		},
		{
			desc:   "run twice",
			method: http.MethodPost,
			path:   "/experiments/e1/run",
			setup: func(s *mocks.Service) {
				s.On("RunExperiment", mock.Anything, "e1").Return(fedsim.Experiment{}, pkgerrors.ErrRunning)
			},
			code: http.StatusConflict,
		},
		{
			desc:   "stop",
			method: http.MethodPost,
			path:   "/experiments/e1/stop",
			setup:  func(s *mocks.Service) { s.On("StopExperiment", mock.Anything, "e1").Return(nil) },
			code:   http.StatusAccepted,
		},
		{
			desc:   "stop idle",
			method: http.MethodPost,
			path:   "/experiments/e1/stop",
			setup:  func(s *mocks.Service) { s.On("StopExperiment", mock.Anything, "e1").Return(pkgerrors.ErrNotRunning) },
			code:   http.StatusConflict,
		},
		{
			desc:   "rounds",
			method: http.MethodGet,
			path:   "/experiments/e1/rounds?limit=2",
			setup: func(s *mocks.Service) {
				s.On("ListRounds", mock.Anything, "e1", uint64(0), uint64(2)).Return(fedsim.RoundPage{Total: 2}, nil)
			},
			code: http.StatusOK,
		},
		{
			desc:   "health",
			method: http.MethodGet,
			path:   "/health",
			setup:  func(*mocks.Service) {},
			code:   http.StatusOK,
		},
	}

	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			t.Parallel()
			ts, svc := newServer(t)
			c.setup(svc)

			res := do(t, c.method, ts.URL+c.path, "", "")
			assert.Equal(t, c.code, res.StatusCode)
			svc.AssertExpectations(t)
		})
	}
}
