package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/SanteonNL/fhirloader/catalog"
	"github.com/SanteonNL/fhirloader/fhirsync"
	"github.com/SanteonNL/fhirloader/lib/coolfhir"
	"github.com/SanteonNL/fhirloader/lib/faults"
	"github.com/SanteonNL/fhirloader/lib/logging"
	"github.com/SanteonNL/fhirloader/lib/otel"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Phase int

const (
	Idle Phase = iota
	Planning
	Deleting
	Loading
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Planning:
		return "planning"
	case Deleting:
		return "deleting"
	case Loading:
		return "loading"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Runner performs a single run: it checks the FHIR server, plans which files to load,
// deletes the tagged resources (if requested) and then loads the files.
type Runner struct {
	config   Config
	out      io.Writer
	resolver coolfhir.Resolver
	phase    Phase
	logger   zerolog.Logger
}

// NewRunner creates a Runner that writes the run summary to out.
func NewRunner(config Config, out io.Writer) *Runner {
	return &Runner{
		config:   config,
		out:      out,
		resolver: net.DefaultResolver,
		phase:    Idle,
	}
}

// Phase returns the phase the run is in, or ended in.
func (r *Runner) Phase() Phase {
	return r.phase
}

// Run executes the run. SetupErrors and DirectoryErrors abort the run before anything is changed on the FHIR server.
// Failing files, batches and entries are reported in the summary; they only fail the run in strict mode.
func (r *Runner) Run(ctx context.Context) error {
	r.logger = logging.WithRunID(log.Logger, uuid.NewString())
	ctx = r.logger.WithContext(ctx)

	tracerProvider, err := otel.Initialize(ctx, r.config.OpenTelemetry, Version)
	if err != nil {
		return faults.Setup("failed to initialize OpenTelemetry", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to shut down OpenTelemetry")
		}
	}()

	baseURL, err := r.config.FHIR.ParseURL()
	if err != nil {
		return faults.Setup("invalid FHIR server URL", err)
	}
	httpClient, err := coolfhir.NewHTTPClient(r.config.FHIR, tracerProvider.Provider())
	if err != nil {
		return faults.Setup("failed to create FHIR client", err)
	}
	fhirClient := coolfhir.NewClient(baseURL, httpClient)
	capabilities, err := coolfhir.ProbeServer(ctx, fhirClient, r.resolver, baseURL, r.config.FHIR.Version)
	if err != nil {
		return err
	}
	r.logger.Info().
		Str(logging.FieldUrl, baseURL.String()).
		Str(logging.FieldTag, r.config.Tag.String()).
		Msgf("Using FHIR server (FHIR version: %s)", capabilities.FhirVersion)

	fs := osfs.New(r.config.Data.Dir)
	var plan []catalog.ResourceFile
	if r.config.Load {
		r.enter(Planning)
		var warnings []catalog.Warning
		plan, warnings, err = catalog.BuildLoadPlan(fs, ".", r.config.RequestedResourceTypes())
		if err != nil {
			return fmt.Errorf("%s: %w", r.config.Data.Dir, err)
		}
		r.logger.Info().
			Int(logging.FieldCount, len(plan)).
			Msgf("Planned files to load (%d skipped with a warning)", len(warnings))
	}

	orchestrator := fhirsync.New(fhirClient, fs, r.config.Tag, r.config.PageSize)
	var failures []string
	if r.config.Delete {
		r.enter(Deleting)
		report := orchestrator.DeleteAllTagged(ctx)
		r.logger.Info().Int(logging.FieldCount, report.Deleted()).Msg("Deleted tagged resources")
		if err := r.render("Deleted resources", report.Render); err != nil {
			return err
		}
		if report.Failed() {
			failures = append(failures, "deleting tagged resources failed")
		}
	}
	if r.config.Load {
		r.enter(Loading)
		report := orchestrator.LoadAll(ctx, plan)
		r.logger.Info().Int(logging.FieldCount, report.Loaded()).Msg("Loaded files")
		if err := r.render("Loaded files", report.Render); err != nil {
			return err
		}
		if report.Failed() {
			failures = append(failures, fmt.Sprintf("%d file(s) and %d entries failed to load", report.FailedFiles(), report.FailedEntries()))
		}
	}
	r.enter(Done)

	if len(failures) == 0 {
		return nil
	}
	for _, failure := range failures {
		r.logger.Warn().Msg(failure)
	}
	if r.config.StrictMode {
		return faults.New(faults.RunFailure, "run completed with failures", errors.New(strings.Join(failures, "; ")))
	}
	return nil
}

func (r *Runner) enter(phase Phase) {
	r.phase = phase
	r.logger.Debug().Str(logging.FieldPhase, phase.String()).Msg("Entering phase")
}

func (r *Runner) render(title string, render func(io.Writer) error) error {
	if _, err := fmt.Fprintln(r.out, title); err != nil {
		return err
	}
	return render(r.out)
}
