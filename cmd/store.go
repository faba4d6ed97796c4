package main

import (
	"context"
	"net/http"
	"time"

	"github.com/sells-group/shp-enrich/internal/model"
	"github.com/sells-group/shp-enrich/internal/store"
	"github.com/sells-group/shp-enrich/internal/worldcat"
)

func initStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg.Store.Options())
}

func initWorldCat() (worldcat.Client, error) {
	creds, err := cfg.WorldCat.Credentials()
	if err != nil {
		return nil, err
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	wc := cfg.WorldCat
	opts := []worldcat.Option{
		worldcat.WithRateLimit(wc.RequestsPerSecond),
		worldcat.WithRetry(wc.Retry.Policy()),
	}
	if wc.BaseURL != "" {
		opts = append(opts, worldcat.WithBaseURL(wc.BaseURL))
	}
	if wc.TokenURL != "" {
		opts = append(opts, worldcat.WithTokenURL(wc.TokenURL))
	}
	if wc.TimeoutSecs > 0 {
		opts = append(opts, worldcat.WithHTTPClient(&http.Client{Timeout: time.Duration(wc.TimeoutSecs) * time.Second}))
	}
	return worldcat.NewClient(creds, opts...), nil
}

func library() (model.Library, error) {
	return model.ParseLibrary(cfg.Library)
}
