package api

import (
	"net/http"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/internal/classifications"
	"github.com/JaimeStill/assay/internal/pipeline"
	"github.com/JaimeStill/assay/pkg/routes"
)

func registerRoutes(mux *http.ServeMux, domain *Domain, runtime *Runtime) {
	auditsHandler := audits.NewHandler(
		domain.Audits,
		runtime.Logger,
		runtime.API.Pagination,
		runtime.API.PollIntervalDuration(),
	)

	pipelineHandler := pipeline.NewHandler(
		domain.Pipeline,
		runtime.Logger,
		runtime.API.MaxUploadSizeBytes(),
		runtime.API.MaxRequestSizeBytes(),
	)

	classificationsHandler := classifications.NewHandler(
		domain.Classifications,
		runtime.Logger,
	)

	routes.Register(
		mux,
		auditsHandler.Routes(),
		pipelineHandler.Routes(),
		classificationsHandler.Routes(),
	)
}
