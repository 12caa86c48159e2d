// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package snare implement a daemon that receive GitHub webhook deliveries
// and run a per-repository command for each one.
//
// Each delivery is authenticated with HMAC-SHA-256 over the raw request
// body, validated against a strict character whitelist, matched against an
// ordered list of regular expression rules to produce the effective
// per-repository settings, and then queued.
// Per repository the queue discipline is sequential (run one at a time, in
// arrival order), parallel (run all, bounded only by the global maxjobs),
// or evict (a newer delivery replaces the one still waiting).
//
// A single instance of snare is configured through a text file, see the
// repository README for the format.
package snare

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	liberrors "git.sr.ht/~shulhan/pakakeh.go/lib/errors"
	libhttp "git.sr.ht/~shulhan/pakakeh.go/lib/http"
)

// Snare is the daemon: the webhook HTTP server, the optional metrics
// server, and the scheduler that own all queueing state.
type Snare struct {
	cfg      *Config
	httpd    *libhttp.Server
	metricsd *http.Server
	sched    *Scheduler

	mtx sync.Mutex
}

// New create and initialize the daemon from configuration.
func New(cfg *Config) (s *Snare, err error) {
	var logp = `New`

	s = &Snare{
		cfg:   cfg,
		sched: newScheduler(cfg.MaxJobs),
	}

	var serverOpts = libhttp.ServerOptions{
		Address: cfg.Listen,
		Conn: &http.Server{
			ReadTimeout:    time.Minute,
			WriteTimeout:   time.Minute,
			MaxHeaderBytes: 1 << 20,
		},
	}

	s.httpd, err = libhttp.NewServer(&serverOpts)
	if err != nil {
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}

	err = s.httpd.RegisterEndpoint(&libhttp.Endpoint{
		Method:       libhttp.RequestMethodPost,
		Path:         `/`,
		RequestType:  libhttp.RequestTypeJSON,
		ResponseType: libhttp.ResponseTypeJSON,
		Call:         s.apiWebhook,
	})
	if err != nil {
		return nil, fmt.Errorf(`%s: %w`, logp, err)
	}

	if len(cfg.MetricsListen) != 0 {
		var mux = http.NewServeMux()
		mux.Handle(`/metrics`, metricsHandler())
		s.metricsd = &http.Server{
			Addr:    cfg.MetricsListen,
			Handler: mux,
		}
	}

	return s, nil
}

// Start run the scheduler, the optional metrics listener, and then serve
// the webhook endpoint.
// It blocks until Stop is called.
func (s *Snare) Start() (err error) {
	s.sched.start()

	if s.metricsd != nil {
		go func() {
			var merr = s.metricsd.ListenAndServe()
			if merr != nil && !errors.Is(merr, http.ErrServerClosed) {
				logErrf(`metrics: %s`, merr)
			}
		}()
	}

	logInfof(`started, listening on %s`, s.cfg.Listen)

	return s.httpd.Start()
}

// Stop shut the HTTP servers down, then terminate the scheduler, which
// reaps or kills the remaining children within a bounded wait.
func (s *Snare) Stop() (err error) {
	err = s.httpd.Stop(5 * time.Second)

	if s.metricsd != nil {
		_ = s.metricsd.Close()
	}

	s.sched.stop()

	return err
}

// Reload re-read the configuration file and swap the match rules used for
// new deliveries.
// Jobs already accepted keep the settings they were created with.
// Changes to listen, metrics_listen, user, or maxjobs require a restart
// and are only logged.
func (s *Snare) Reload() (err error) {
	var logp = `Reload`

	var (
		old = s.config()

		newCfg *Config
	)

	newCfg, err = LoadConfig(old.file)
	if err != nil {
		logErrf(`%s: %s`, logp, err)
		return fmt.Errorf(`%s: %w`, logp, err)
	}

	if newCfg.Listen != old.Listen || newCfg.MaxJobs != old.MaxJobs ||
		newCfg.User != old.User || newCfg.MetricsListen != old.MetricsListen {
		logWarnf(`%s: changes to listen, metrics_listen, user, or maxjobs require a restart`, logp)
		newCfg.Listen = old.Listen
		newCfg.MaxJobs = old.MaxJobs
		newCfg.User = old.User
		newCfg.MetricsListen = old.MetricsListen
	}

	s.mtx.Lock()
	s.cfg = newCfg
	s.mtx.Unlock()

	logWarnf(`%s: configuration reloaded`, logp)

	return nil
}

func (s *Snare) config() (cfg *Config) {
	s.mtx.Lock()
	cfg = s.cfg
	s.mtx.Unlock()
	return cfg
}

// apiWebhook handle "POST /".
// The pipeline is: validate the delivery, fold the match rules, verify the
// signature, persist the payload, and hand the job to the scheduler.
func (s *Snare) apiWebhook(epr *libhttp.EndpointRequest) (resbody []byte, err error) {
	var req *webhookRequest

	req, err = parseWebhookRequest(epr)
	if err != nil {
		logInfof(`webhook: malformed request: %s`, err)
		return nil, s.reject(err)
	}

	var (
		cfg = s.config()

		set Settings
	)

	set, err = cfg.settingsFor(req.key())
	if err != nil {
		logWarnf(`webhook: %s: no command configured`, req.key())
		return nil, s.reject(err)
	}

	err = authorize(req.key(), set.Secret, req.signature, req.payload)
	if err != nil {
		logWarnf(`webhook: %s: unauthenticated request`, req.key())
		return nil, s.reject(err)
	}

	var job *Job

	job, err = newJob(req, set)
	if err != nil {
		logErrf(`webhook: %s: %s`, req.key(), err)
		return nil, s.reject(&errInternal)
	}

	err = s.sched.submit(job)
	if err != nil {
		job.removePayload()
		logWarnf(`webhook: %s: %s`, req.key(), err)
		return nil, s.reject(err)
	}

	logInfof(`webhook: %s: accepted job %s for event %s`, req.key(), job.ID, job.Event)
	metricsWebhook(http.StatusOK)

	var res libhttp.EndpointResponse

	res.Code = http.StatusOK
	res.Message = `OK`

	return json.Marshal(&res)
}

// reject record the response status in the metrics and pass the error
// through to the HTTP server.
func (s *Snare) reject(err error) error {
	var e *liberrors.E
	if errors.As(err, &e) {
		metricsWebhook(e.Code)
	} else {
		metricsWebhook(http.StatusInternalServerError)
	}
	return err
}
