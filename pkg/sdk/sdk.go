// Package sdk is a Go client for the experiment HTTP API.
package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/absmach/fedsim"
)

const (
	CTJSON string = "application/json"
	CTTOML string = "application/toml"
)

type SDK interface {
	// CreateExperiment registers an experiment without running it.
	//
	// example:
	//  cfg, _ := fedsim.LoadConfig("emnist.toml")
	//  exp, _ := sdk.CreateExperiment(cfg)
	//  fmt.Println(exp.ID)
	CreateExperiment(cfg fedsim.Config) (fedsim.Experiment, error)

	// CreateExperimentTOML registers an experiment from the contents of a
	// TOML experiment file.
	CreateExperimentTOML(data []byte) (fedsim.Experiment, error)

	// GetExperiment gets an experiment by id.
	//
	// example:
	//  exp, _ := sdk.GetExperiment("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	//  fmt.Println(exp.Status, exp.Round)
	GetExperiment(id string) (fedsim.Experiment, error)

	// ListExperiments lists experiments.
	//
	// example:
	//  page, _ := sdk.ListExperiments(0, 10)
	//  fmt.Println(page.Total)
	ListExperiments(offset, limit uint64) (fedsim.ExperimentPage, error)

	// RunExperiment starts training an experiment in the background.
	RunExperiment(id string) (fedsim.Experiment, error)

	// StopExperiment cancels a running experiment.
	StopExperiment(id string) error

	// ListRounds lists the recorded rounds of an experiment.
	//
	// example:
	//  page, _ := sdk.ListRounds("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040", 0, 10)
	//  for _, r := range page.Rounds {
	//    fmt.Println(r.Number, r.Metrics["train"]["loss"])
	//  }
	ListRounds(id string, offset, limit uint64) (fedsim.RoundPage, error)
}

type fedSDK struct {
	serviceURL string
	client     *http.Client
}

type Config struct {
	ServiceURL      string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		serviceURL: cfg.ServiceURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

type errorRes struct {
	Err string `json:"error"`
}

func (sdk *fedSDK) processRequest(method, reqURL, contentType string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", contentType)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var e errorRes
		if json.Unmarshal(body, &e) == nil && e.Err != "" {
			return []byte{}, fmt.Errorf("unexpected response code: %d: %s", resp.StatusCode, e.Err)
		}

		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
