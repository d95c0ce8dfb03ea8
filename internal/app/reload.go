package app

import (
	"context"
	"strings"

	"giveawaybot/internal/config"
	logx "giveawaybot/pkg/logx"
)

// startReload fans validated config reloads out to the services that can
// take them live.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rt, err := config.Resolve(newCfg)
	if err != nil {
		// The manager validated it already; this only guards a racing edit.
		a.log.Warn("reloaded config does not resolve; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.gwPlugin.Reconfigure(mapGiveawayConfig(rt))

	a.http.Reconfigure(ctx, mapHTTPConfig(newCfg, rt))
	a.sups.Set("http", a.http.Supervisor())

	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("some changed settings apply after restart", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
