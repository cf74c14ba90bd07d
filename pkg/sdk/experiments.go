package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/absmach/fedsim"
)

const experimentsEndpoint = "/experiments"

func (sdk *fedSDK) CreateExperiment(cfg fedsim.Config) (fedsim.Experiment, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fedsim.Experiment{}, err
	}

	return sdk.createExperiment(CTJSON, data)
}

func (sdk *fedSDK) CreateExperimentTOML(data []byte) (fedsim.Experiment, error) {
	return sdk.createExperiment(CTTOML, data)
}

func (sdk *fedSDK) createExperiment(contentType string, data []byte) (fedsim.Experiment, error) {
	url := sdk.serviceURL + experimentsEndpoint

	body, err := sdk.processRequest(http.MethodPost, url, contentType, data, http.StatusCreated)
	if err != nil {
		return fedsim.Experiment{}, err
	}

	var exp fedsim.Experiment
	if err := json.Unmarshal(body, &exp); err != nil {
		return fedsim.Experiment{}, err
	}

	return exp, nil
}

func (sdk *fedSDK) GetExperiment(id string) (fedsim.Experiment, error) {
	url := sdk.serviceURL + experimentsEndpoint + "/" + id

	body, err := sdk.processRequest(http.MethodGet, url, CTJSON, nil, http.StatusOK)
	if err != nil {
		return fedsim.Experiment{}, err
	}

	var exp fedsim.Experiment
	if err := json.Unmarshal(body, &exp); err != nil {
		return fedsim.Experiment{}, err
	}

	return exp, nil
}

func (sdk *fedSDK) ListExperiments(offset, limit uint64) (fedsim.ExperimentPage, error) {
	url := sdk.serviceURL + experimentsEndpoint + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, url, CTJSON, nil, http.StatusOK)
	if err != nil {
		return fedsim.ExperimentPage{}, err
	}

	var page fedsim.ExperimentPage
	if err := json.Unmarshal(body, &page); err != nil {
		return fedsim.ExperimentPage{}, err
	}

	return page, nil
}

func (sdk *fedSDK) RunExperiment(id string) (fedsim.Experiment, error) {
	url := sdk.serviceURL + experimentsEndpoint + "/" + id + "/run"

	body, err := sdk.processRequest(http.MethodPost, url, CTJSON, nil, http.StatusAccepted)
	if err != nil {
		return fedsim.Experiment{}, err
	}

	var exp fedsim.Experiment
	if err := json.Unmarshal(body, &exp); err != nil {
		return fedsim.Experiment{}, err
	}

	return exp, nil
}

func (sdk *fedSDK) StopExperiment(id string) error {
	url := sdk.serviceURL + experimentsEndpoint + "/" + id + "/stop"

	if _, err := sdk.processRequest(http.MethodPost, url, CTJSON, nil, http.StatusAccepted); err != nil {
		return err
	}

	return nil
}

func (sdk *fedSDK) ListRounds(id string, offset, limit uint64) (fedsim.RoundPage, error) {
	url := sdk.serviceURL + experimentsEndpoint + "/" + id + "/rounds" + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, url, CTJSON, nil, http.StatusOK)
	if err != nil {
		return fedsim.RoundPage{}, err
	}

	var page fedsim.RoundPage
	if err := json.Unmarshal(body, &page); err != nil {
		return fedsim.RoundPage{}, err
	}

	return page, nil
}

func pageQuery(offset, limit uint64) string {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	if len(queries) == 0 {
		return ""
	}

	return "?" + strings.Join(queries, "&")
}
