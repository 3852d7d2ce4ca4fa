package training

// Render kinds passed to Observer.OnRender
const (
	RenderPredictions  = "predictions"
	RenderTrainingGrid = "training_grid"
	RenderCurves       = "curves"
)

// Observer receives progress from a Controller on the caller's goroutine.
// Implementations must return quickly. OnRollback follows a failed Train and
// withdraws the stats of epoch and every later epoch.
type Observer interface {
	OnEpoch(stats EpochStats)
	OnRender(kind, path string)
	OnRollback(epoch int)
}

// AddObserver registers o for epoch and render notifications
func (c *Controller) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

func (c *Controller) notifyEpoch(stats EpochStats) {
	for _, o := range c.observers {
		o.OnEpoch(stats)
	}
}

func (c *Controller) notifyRender(kind, path string) {
	for _, o := range c.observers {
		o.OnRender(kind, path)
	}
}

func (c *Controller) notifyRollback(epoch int) {
	for _, o := range c.observers {
		o.OnRollback(epoch)
	}
}
