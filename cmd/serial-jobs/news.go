package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/serial-jobs/pkg/config"
	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/hostqueue"
	"github.com/jdziat/serial-jobs/pkg/kind"
)

const (
	newsType  = "news"
	newsEvent = "news"

	defaultNewsInterval = time.Hour
)

type newsArgs struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

// newsPage is what a news job hands to subscribers. Parsing the page is the
// subscriber's business.
type newsPage struct {
	Source    string
	URL       string
	Status    int
	Body      []byte
	FetchedAt time.Time
}

// newsKind fetches a source's release page through the host queues.
func newsKind(client *hostqueue.Client) kind.Kind {
	return kind.Emit(newsType, newsEvent, func(ctx context.Context, args newsArgs) (*newsPage, error) {
		resp, err := client.Get(ctx, args.URL)
		if err != nil {
			return nil, errors.Wrapf(err, "news %s", args.Source)
		}
		if resp.StatusCode >= 400 {
			return nil, errors.Newf("news %s: %s returned status %d", args.Source, args.URL, resp.StatusCode)
		}
		return &newsPage{
			Source:    args.Source,
			URL:       resp.URL,
			Status:    resp.StatusCode,
			Body:      resp.Body,
			FetchedAt: time.Now(),
		}, nil
	})
}

// newsBootstrap returns one recurring news job per source.
func newsBootstrap(sources []config.Source) ([]*core.JobRequest, error) {
	reqs := make([]*core.JobRequest, 0, len(sources))
	for _, src := range sources {
		req, err := core.NewRequest(newsType, newsArgs{Source: src.Name, URL: src.URL})
		if err != nil {
			return nil, errors.Wrapf(err, "source %s", src.Name)
		}
		req.Name = newsType + ":" + src.Name
		req.Interval = src.Interval
		if req.Interval <= 0 {
			req.Interval = defaultNewsInterval
		}
		req.RunImmediately = true
		reqs = append(reqs, req)
	}
	return reqs, nil
}
