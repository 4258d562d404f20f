package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"listing_alerts/config"
	"listing_alerts/models"
	"listing_alerts/storage"
)

const commandPollInterval = 2 * time.Second

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Paused        bool      `json:"paused"`
	Running       bool      `json:"running"`
	LastSuccess   time.Time `json:"last_success"`
	NextDue       time.Time `json:"next_due"`
	CheckInterval string    `json:"check_interval"`
	Schedule      string    `json:"schedule"`
}

// Scheduler drives the alert cycle from a poll ticker or a cron expression
// and executes queued commands.
type Scheduler struct {
	cfg   config.SchedulerConfig
	cycle *AlertCycle
	ops   storage.OpsStore
	cron  *cron.Cron

	mu     sync.Mutex
	paused bool

	retryWorker Triggerable

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg config.SchedulerConfig, cycle *AlertCycle, ops storage.OpsStore) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		cycle:  cycle,
		ops:    ops,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

// SetRetryWorker registers the worker the retry_notifications command triggers.
func (s *Scheduler) SetRetryWorker(w Triggerable) {
	s.retryWorker = w
}

// Start loads the persisted state and launches the background loops. The
// first gated cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.cycle.State().Load(ctx); err != nil {
		return fmt.Errorf("load scheduler state: %w", err)
	}
	if last := s.cycle.State().LastSuccess(); !last.IsZero() {
		log.Printf("Scheduler: last successful cycle at %s", last.Format(time.RFC3339))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollCommands(ctx)
	}()

	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.tick(ctx, false) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
		return nil
	}

	log.Printf("Starting scheduler: polling every %s, cycle interval %s", s.cfg.PollInterval, s.cfg.CheckInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		s.tick(ctx, false)
		for {
			select {
			case <-ticker.C:
				s.tick(ctx, false)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop halts the loops and waits for an in-flight cycle to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) setPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}

func (s *Scheduler) Status() Status {
	state := s.cycle.State()
	schedule := "every " + s.cfg.PollInterval.String()
	if s.cfg.Cron != "" {
		schedule = "cron " + s.cfg.Cron
	}
	return Status{
		Paused:        s.Paused(),
		Running:       s.cycle.Running(),
		LastSuccess:   state.LastSuccess(),
		NextDue:       state.NextDue(s.cfg.CheckInterval),
		CheckInterval: s.cfg.CheckInterval.String(),
		Schedule:      schedule,
	}
}

// tick runs one cycle. Panics and errors are logged and never escape.
func (s *Scheduler) tick(ctx context.Context, force bool) {
	if s.Paused() && !force {
		log.Println("Scheduler: paused, skipping cycle")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Alert cycle panic: %v\n%s", r, debug.Stack())
		}
	}()

	if _, err := s.cycle.Run(ctx, force); err != nil {
		if errors.Is(err, ErrCycleRunning) {
			log.Println("Scheduler: cycle already running, skipping")
			return
		}
		log.Printf("Alert cycle error: %v", err)
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.ops.GetPendingCommands(ctx)
	if err != nil {
		log.Printf("Error getting commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		log.Printf("Processing command: %s", cmd.Command)
		// Mark first: a command is never replayed.
		if err := s.ops.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			log.Printf("Error marking command processed: %v", err)
			continue
		}
		if err := s.handleCommand(ctx, &cmd); err != nil {
			log.Printf("Command error: %v", err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return fmt.Errorf("command %d params: %w", cmd.ID, err)
	}

	switch cmd.Command {
	case models.CmdRunCycle:
		s.tick(ctx, params.Force)
	case models.CmdPause:
		s.setPaused(true)
		log.Println("Scheduler paused")
	case models.CmdResume:
		s.setPaused(false)
		log.Println("Scheduler resumed")
	case models.CmdRetryNotifications:
		if s.retryWorker != nil {
			s.retryWorker.Trigger()
			log.Println("Retry worker triggered via command")
		}
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}
