package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/scheduler"
)

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl engine.Template
	if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if tmpl.ID == "" || tmpl.Version <= 0 || len(tmpl.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "template requires id, version > 0, and at least one field")
		return
	}
	for _, f := range tmpl.Fields {
		if f.Name == "" || f.Selector == "" {
			writeError(w, http.StatusBadRequest, "each field requires name and selector")
			return
		}
	}
	if err := s.stores.Templates.PutTemplate(r.Context(), tmpl); err != nil {
		if errors.Is(err, engine.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "template version already exists")
			return
		}
		s.logger.Error("put template failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to store template")
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "template_id")
	version := 0
	if raw := chi.URLParam(r, "version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "version must be a positive integer")
			return
		}
		version = v
	}
	tmpl, err := s.stores.Templates.GetTemplate(r.Context(), id, version)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		s.logger.Error("get template failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to load template")
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var job engine.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if job.TemplateID == "" || len(job.Seeds) == 0 {
		writeError(w, http.StatusBadRequest, "job requires template_id and at least one seed URL")
		return
	}
	if job.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			s.logger.Error("generate job ID failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate job ID")
			return
		}
		job.ID = id
	}
	// Reject jobs pointing at an unknown template up front rather than at
	// first run.
	if _, err := s.stores.Templates.GetTemplate(r.Context(), job.TemplateID, job.TemplateVersion); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "template not found: "+job.TemplateID)
			return
		}
		s.logger.Error("resolve template failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to resolve template")
		return
	}
	job.Status = engine.JobStatusIdle
	job.CreatedAt = s.clock.Now().UTC()

	if err := s.stores.Jobs.CreateJob(r.Context(), job); err != nil {
		if errors.Is(err, engine.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "job already exists")
			return
		}
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to store job")
		return
	}
	if err := s.sched.Register(job); err != nil {
		// Keep the store consistent with the scheduler.
		if delErr := s.stores.Jobs.DeleteJob(r.Context(), job.ID); delErr != nil {
			s.logger.Error("rollback job failed", zap.String("job_id", job.ID), zap.Error(delErr))
		}
		if errors.Is(err, engine.ErrInvalidJobConfig) {
			writeError(w, http.StatusBadRequest, "invalid schedule: "+job.Schedule)
			return
		}
		s.logger.Error("register job failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to schedule job")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.stores.Jobs.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.stores.Jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	s.sched.Unregister(jobID)
	if err := s.stores.Jobs.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("delete job failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.sched.Pause(r.Context(), jobID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(engine.JobStatusPaused)})
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.sched.Resume(r.Context(), jobID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(engine.JobStatusIdle)})
}

func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.stores.Jobs.GetJob(r.Context(), jobID); err != nil {
		writeError(w, statusFor(err), "job not found")
		return
	}
	if err := s.sched.TriggerNow(jobID); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "job already has an active run")
		case errors.Is(err, scheduler.ErrJobPaused):
			writeError(w, http.StatusConflict, "job is paused")
		default:
			s.logger.Error("trigger job failed", zap.Error(err))
			writeError(w, statusFor(err), "failed to trigger job")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(engine.JobStatusQueued)})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.stores.Jobs.GetJob(r.Context(), jobID); err != nil {
		writeError(w, statusFor(err), "job not found")
		return
	}
	runs, err := s.stores.Runs.ListRuns(r.Context(), jobID)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.stores.Runs.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.sched.CancelRun(r.Context(), runID); err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, scheduler.ErrRunNotActive):
			writeError(w, http.StatusConflict, "run already finished")
		default:
			s.logger.Error("cancel run failed", zap.Error(err))
			writeError(w, statusFor(err), "failed to cancel run")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if _, err := s.stores.Runs.GetRun(r.Context(), runID); err != nil {
		writeError(w, statusFor(err), "run not found")
		return
	}
	records, err := s.stores.Records.ListRecords(r.Context(), runID)
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to list records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (s *Server) getQuality(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.stores.Snapshots.GetSnapshot(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "quality snapshot not found")
			return
		}
		s.logger.Error("get quality snapshot failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to load quality snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
