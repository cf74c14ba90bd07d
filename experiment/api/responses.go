package api

import (
	"net/http"

	"github.com/absmach/fedsim"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*experimentResponse)(nil)
	_ supermq.Response = (*listExperimentsResponse)(nil)
	_ supermq.Response = (*listRoundsResponse)(nil)
	_ supermq.Response = (*stopResponse)(nil)
)

type experimentResponse struct {
	fedsim.Experiment
	created  bool
	accepted bool
}

func (e experimentResponse) Code() int {
	switch {
	case e.created:
		return http.StatusCreated
	case e.accepted:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

func (e experimentResponse) Headers() map[string]string {
	if e.created {
		return map[string]string{
			"Location": "/experiments/" + e.ID,
		}
	}

	return map[string]string{}
}

func (e experimentResponse) Empty() bool {
	return false
}

type listExperimentsResponse struct {
	fedsim.ExperimentPage
}

func (l listExperimentsResponse) Code() int {
	return http.StatusOK
}

func (l listExperimentsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listExperimentsResponse) Empty() bool {
	return false
}

type listRoundsResponse struct {
	fedsim.RoundPage
}

func (l listRoundsResponse) Code() int {
	return http.StatusOK
}

func (l listRoundsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRoundsResponse) Empty() bool {
	return false
}

type stopResponse struct{}

func (s stopResponse) Code() int {
	return http.StatusAccepted
}

func (s stopResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s stopResponse) Empty() bool {
	return true
}
