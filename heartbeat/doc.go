// Package heartbeat keeps cell directory entries alive and notices cells
// that stop refreshing theirs.
//
// Directory entries expire after the registry TTL. A Sender re-registers
// the cells a process hosts on a fixed interval, stamping a new LastSeen
// each time. A Monitor follows the directory's events and reports any cell
// whose LastSeen falls further behind than its timeout.
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Registry: dir,
//	    Interval: heartbeat.IntervalFor(30 * time.Second),
//	})
//	sender.Add(registry.CellInfo{ID: "logic_greet", Subjects: []string{"cbs.greeter.say_hello"}})
//	sender.Start(ctx)
//
//	monitor, _ := heartbeat.NewMonitor(heartbeat.MonitorConfig{Registry: dir})
//	monitor.OnDead(func(cell registry.CellInfo) {
//	    log.Printf("cell %s stopped refreshing", cell.ID)
//	})
//	monitor.Start()
//
// Set the monitor timeout to 2-3x the refresh interval. A cell removed with
// Deregister is forgotten, not reported.
package heartbeat
