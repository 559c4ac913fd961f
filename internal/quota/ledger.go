package quota

import (
	"comicstrip/internal/entity"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// MaxCredits 每日满额度
	MaxCredits = 18
	// CreditsPerGeneration 每次生成消耗的额度
	CreditsPerGeneration = 6
	// DailyGenerationLimit 每日可生成次数
	DailyGenerationLimit = MaxCredits / CreditsPerGeneration

	dayLayout = "2006-01-02"
)

var (
	// ErrQuotaExhausted 当日额度已用完
	ErrQuotaExhausted = errors.New("daily quota exhausted")
	// ErrComicNotOwned 生成记录属于其他用户
	ErrComicNotOwned = errors.New("comic belongs to another user")
)

// Decision is the outcome of a credit consumption attempt.
type Decision int

const (
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// Store is the slice of the repository the ledger depends on.
type Store interface {
	CountComicsOnDay(ctx context.Context, userID, day string) (int64, error)
	ConsumeCredit(ctx context.Context, record *entity.DbComic, dailyLimit int64) (bool, error)
	UpdateComicScreenshot(ctx context.Context, generationID, screenshotURL string) error
	GetComicByGenerationID(ctx context.Context, generationID string) (*entity.DbComic, error)
}

// Ledger answers how many generations a user may still run today and records
// generations that happened. Records are the only source of truth; credits are
// always derived from today's count.
type Ledger struct {
	store  Store
	policy ReadPolicy
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithReadPolicy sets what ComputeRemainingCredits returns when the store cannot be read.
func WithReadPolicy(policy ReadPolicy) Option {
	return func(l *Ledger) {
		l.policy = policy
	}
}

// WithClock replaces time.Now, mainly for tests around the day boundary.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger creates a ledger backed by store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		policy: ReadPolicyFailOpen,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DayKey returns the UTC calendar day t falls on.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// Today returns the current day key according to the ledger clock.
func (l *Ledger) Today() string {
	return DayKey(l.now())
}

// Policy returns the configured read policy.
func (l *Ledger) Policy() ReadPolicy {
	return l.policy
}

// RemainingCredits maps today's generation count to the remaining allowance.
func RemainingCredits(count int) int {
	switch {
	case count <= 0:
		return MaxCredits
	case count == 1:
		return 12
	case count == 2:
		return 6
	default:
		return 0
	}
}

// ComputeRemainingCredits returns the user's remaining credits for today.
// An empty user id gets the full allowance. Read failures never propagate;
// the configured ReadPolicy decides the result.
func (l *Ledger) ComputeRemainingCredits(ctx context.Context, userID string) int {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return MaxCredits
	}
	day := l.Today()
	if l.store == nil {
		return l.policy.onReadFailure(userID, day, errors.New("quota store not configured"))
	}

	count, err := l.store.CountComicsOnDay(ctx, userID, day)
	if err != nil {
		return l.policy.onReadFailure(userID, day, err)
	}
	return RemainingCredits(int(count))
}

// TryConsumeCredit records one generation for today if the user still has
// allowance. The store performs the check and insert atomically.
func (l *Ledger) TryConsumeCredit(ctx context.Context, userID string, record *entity.DbComic) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Denied, fmt.Errorf("user id is empty")
	}
	if record == nil {
		return Denied, fmt.Errorf("comic record is nil")
	}
	if l.store == nil {
		return Denied, fmt.Errorf("quota store not configured")
	}

	record.UserID = userID
	record.CreatedOn = l.Today()

	ok, err := l.store.ConsumeCredit(ctx, record, DailyGenerationLimit)
	if err != nil {
		return Denied, fmt.Errorf("consume credit: %w", err)
	}
	if !ok {
		return Denied, nil
	}
	return Allowed, nil
}

// RecordGeneration writes the Generation Record for a completed generation.
func (l *Ledger) RecordGeneration(ctx context.Context, userID, generationID, prompt string, panels []entity.Panel) error {
	record := &entity.DbComic{
		GenerationID:      generationID,
		Prompt:            prompt,
		PanelImages:       make(entity.StringArray, 0, len(panels)),
		PanelDescriptions: make(entity.StringArray, 0, len(panels)),
	}
	for _, panel := range panels {
		record.PanelImages = append(record.PanelImages, panel.ImageURL)
		record.PanelDescriptions = append(record.PanelDescriptions, panel.Description)
	}

	decision, err := l.TryConsumeCredit(ctx, userID, record)
	if err != nil {
		return err
	}
	if decision == Denied {
		return ErrQuotaExhausted
	}
	return nil
}

// AttachScreenshot sets the screenshot of a generation. When the initial
// record write never landed, the record is created through TryConsumeCredit,
// so a late screenshot can never push the day past its limit.
func (l *Ledger) AttachScreenshot(ctx context.Context, userID, generationID, prompt, screenshotURL string) error {
	userID = strings.TrimSpace(userID)
	generationID = strings.TrimSpace(generationID)
	if userID == "" || generationID == "" {
		return fmt.Errorf("user id and generation id are required")
	}
	if l.store == nil {
		return fmt.Errorf("quota store not configured")
	}

	existing, err := l.store.GetComicByGenerationID(ctx, generationID)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return ErrComicNotOwned
		}
		return l.updateScreenshot(ctx, existing, screenshotURL)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("load comic: %w", err)
	}

	logger := logrus.WithFields(logrus.Fields{
		"user_id":       userID,
		"generation_id": generationID,
	})
	logger.Warn("screenshot attached before generation record existed")

	decision, err := l.TryConsumeCredit(ctx, userID, &entity.DbComic{
		GenerationID:  generationID,
		Prompt:        prompt,
		ScreenshotURL: screenshotURL,
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 记录在此期间已写入，改为更新
		existing, err = l.store.GetComicByGenerationID(ctx, generationID)
		if err != nil {
			return fmt.Errorf("load comic: %w", err)
		}
		if existing.UserID != userID {
			return ErrComicNotOwned
		}
		return l.updateScreenshot(ctx, existing, screenshotURL)
	}
	if err != nil {
		return err
	}
	if decision == Denied {
		logger.Warn("screenshot refused, no credits left to create the record")
		return ErrQuotaExhausted
	}
	return nil
}

// updateScreenshot 仅更新已存在的记录
func (l *Ledger) updateScreenshot(ctx context.Context, existing *entity.DbComic, screenshotURL string) error {
	if err := l.store.UpdateComicScreenshot(ctx, existing.GenerationID, screenshotURL); err != nil {
		return fmt.Errorf("update screenshot: %w", err)
	}
	return nil
}
