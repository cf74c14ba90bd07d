package api

import (
	"github.com/absmach/fedsim"
	"github.com/absmach/fedsim/pkg/api"
	apiutil "github.com/absmach/supermq/api/http/util"
)

type createExperimentReq struct {
	fedsim.Config `json:",inline"`
}

func (req *createExperimentReq) validate() error {
	return req.Config.WithDefaults().Validate()
}

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	if e.limit > api.MaxLimitSize {
		return api.ErrLimitSize
	}

	return nil
}

type listRoundsReq struct {
	id            string
	offset, limit uint64
}

func (e *listRoundsReq) validate() error {
	if e.id == "" {
		return apiutil.ErrMissingID
	}
	if e.limit > api.MaxLimitSize {
		return api.ErrLimitSize
	}

	return nil
}
