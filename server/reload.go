package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jasonlvhit/gocron"
)

// StartDailyReload uses gocron to rebuild the snapshot once a day, at Reload.DailyAt.
// This picks up records that the archivists have added to the store since startup.
// Does nothing if Reload.DailyAt is empty.
func (e *Engine) StartDailyReload() error {
	at := e.GetConfig().Reload.DailyAt
	if at == "" {
		return nil
	}
	if _, err := time.Parse("15:04", at); err != nil {
		return fmt.Errorf("Reload.DailyAt must be HH:MM, not %q", at)
	}
	e.ErrorLog.Infof("Scheduling daily snapshot reload at %v", at)
	gocron.Every(1).Day().At(at).Do(e.scheduledReload)
	gocron.Start()
	return nil
}

func (e *Engine) scheduledReload() {
	// Reload logs its own failures
	e.Reload(context.Background())
}
