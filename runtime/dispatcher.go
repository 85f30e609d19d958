package runtime

import (
	"chat-relay/domain"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shirou/gopsutil/process"
)

// Dispatcher interprets the "/" command sublanguage. The first
// whitespace-delimited token selects the command, case-insensitively.
// Every reply is unicast to the invoking session and never broadcast
// nor appended to durable history.
type Dispatcher struct {
	log    *slog.Logger
	engine *Engine
	self   *process.Process
}

func NewDispatcher(log *slog.Logger, engine *Engine) *Dispatcher {
	// Self-inspection is optional: /stats degrades to counters only
	// when the process handle is unavailable.
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("process self stats unavailable", "error", err)
		self = nil
	}
	return &Dispatcher{log: log, engine: engine, self: self}
}

func (d *Dispatcher) Dispatch(line string) domain.Message {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return d.unknown("/")
	}

	switch strings.ToLower(fields[0]) {
	case "/help":
		return domain.System("available commands: /help, /online, /ping, /stats, /savelog")
	case "/online":
		names := lo.Map(d.engine.registry.Snapshot(), func(v domain.SessionView, _ int) string {
			return v.Name
		})
		return domain.System(fmt.Sprintf("online users (%d): %s", len(names), strings.Join(names, ", ")))
	case "/ping":
		return domain.System("pong, server is up")
	case "/stats":
		return d.stats()
	case "/savelog":
		if err := d.engine.SaveSnapshot(false); err != nil {
			d.log.Error("manual snapshot failed", "error", err)
			return domain.System("log save failed")
		}
		return domain.System("log saved")
	default:
		return d.unknown(fields[0])
	}
}

func (d *Dispatcher) stats() domain.Message {
	uptime := time.Since(d.engine.startTime)
	text := fmt.Sprintf("uptime %.0fs, messages %d, online %d",
		uptime.Seconds(), d.engine.history.Counter(), d.engine.registry.Len())

	if rss, cpu, err := selfStats(d.self); err == nil {
		text += fmt.Sprintf(", rss %dMiB, cpu %.1f%%", rss/(1<<20), cpu)
	}
	return domain.System(text)
}

func (d *Dispatcher) unknown(cmd string) domain.Message {
	return domain.System(fmt.Sprintf("unknown command: %s, type /help for the command list", cmd))
}

// selfStats collects the server's own memory and CPU usage for /stats.
func selfStats(p *process.Process) (uint64, float64, error) {
	if p == nil {
		return 0, 0, fmt.Errorf("no process handle")
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
