package service

import (
	"comicstrip/internal/entity"
	"comicstrip/internal/llm"
	"comicstrip/internal/storage"
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

type memoryRepo struct {
	mu      sync.Mutex
	comics  []entity.DbComic
	deleted map[string]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{deleted: make(map[string]bool)}
}

func (r *memoryRepo) CountComicsOnDay(_ context.Context, userID, day string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(userID, day), nil
}

func (r *memoryRepo) countLocked(userID, day string) int64 {
	var n int64
	for _, c := range r.comics {
		if c.UserID == userID && c.CreatedOn == day {
			n++
		}
	}
	return n
}

func (r *memoryRepo) ConsumeCredit(_ context.Context, record *entity.DbComic, dailyLimit int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countLocked(record.UserID, record.CreatedOn) >= dailyLimit {
		return false, nil
	}
	r.comics = append(r.comics, *record)
	return true, nil
}

func (r *memoryRepo) UpdateComicScreenshot(_ context.Context, generationID, screenshotURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.comics {
		if r.comics[i].GenerationID == generationID {
			r.comics[i].ScreenshotURL = screenshotURL
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memoryRepo) GetComicByGenerationID(_ context.Context, generationID string) (*entity.DbComic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.comics {
		if c.GenerationID == generationID && !r.deleted[generationID] {
			comic := c
			return &comic, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) ListComics(_ context.Context, params *entity.ComicQuery) ([]entity.DbComic, *entity.Meta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.DbComic
	for _, c := range r.comics {
		if c.UserID == params.UserID && !r.deleted[c.GenerationID] {
			out = append(out, c)
		}
	}
	return out, &entity.Meta{Page: 1, PageSize: 20, Total: int64(len(out))}, nil
}

func (r *memoryRepo) DeleteComic(_ context.Context, generationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted[generationID] = true
	return nil
}

func (r *memoryRepo) comic(generationID string) (entity.DbComic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.comics {
		if c.GenerationID == generationID {
			return c, true
		}
	}
	return entity.DbComic{}, false
}

func (r *memoryRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.comics)
}

type stubExpander struct {
	mu     sync.Mutex
	calls  int
	panels int
	err    error
}

func (e *stubExpander) ExpandPrompt(_ context.Context, prompt string) (*llm.Expansion, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	n := e.panels
	if n == 0 {
		n = 6
	}
	out := &llm.Expansion{}
	for i := 1; i <= n; i++ {
		out.Prompts = append(out.Prompts, fmt.Sprintf("%s #%d", prompt, i))
		out.Descriptions = append(out.Descriptions, fmt.Sprintf("caption %d", i))
	}
	return out, nil
}

func (e *stubExpander) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubSynthesizer struct {
	err error
	// hold 非空时，提示词以 holdPrefix 开头的请求会阻塞到 hold 关闭
	holdPrefix string
	hold       chan struct{}
	started    chan struct{}
}

func (s *stubSynthesizer) SynthesizeImages(ctx context.Context, prompts []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.hold != nil && len(prompts) > 0 && len(prompts[0]) >= len(s.holdPrefix) && prompts[0][:len(s.holdPrefix)] == s.holdPrefix {
		close(s.started)
		select {
		case <-s.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	images := make([]string, 0, len(prompts))
	for _, p := range prompts {
		images = append(images, "https://img.example/"+p)
	}
	return images, nil
}

type memoryStorage struct {
	mu    sync.Mutex
	saved map[string][]byte
	opts  []storage.SaveOptions
	err   error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{saved: make(map[string][]byte)}
}

func (m *memoryStorage) Save(_ context.Context, data []byte, opts storage.SaveOptions) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if len(data) == 0 {
		return "", errors.New("empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	path := fmt.Sprintf("%s/%s.%s", opts.Category, opts.BaseName, opts.Extension)
	m.saved[path] = data
	m.opts = append(m.opts, opts)
	return path, nil
}
