package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/carbonwatch/carbonwatch/internal/controllers/restserver"
	"github.com/carbonwatch/carbonwatch/internal/hub"
	"github.com/carbonwatch/carbonwatch/internal/poller"
	"go.uber.org/zap"
)

// DefaultControllers is the start order used by the application. The hub must
// run before the poller publishes to it.
var DefaultControllers = []string{"hub", "poller", "restserver"}

// ControllerManager interface for the controller manager
type ControllerManager interface {
	StartControllers() error
}

// Controller is an interface that provides standard methods for various controller backends
type Controller interface {
	StartController() error
}

// NewControllerManager creates a new controller manager
func NewControllerManager(ctx context.Context, wg *sync.WaitGroup, svc *Services, kinds []string, logger *zap.SugaredLogger) (ControllerManager, error) {
	cm := &controllerManager{
		ctx:         ctx,
		wg:          wg,
		services:    svc,
		logger:      logger,
		controllers: make([]Controller, 0, len(kinds)),
	}

	for _, kind := range kinds {
		controller, err := cm.createController(kind)
		if err != nil {
			return nil, fmt.Errorf("error creating controller: %w", err)
		}
		cm.controllers = append(cm.controllers, controller)
	}

	return cm, nil
}

type controllerManager struct {
	ctx         context.Context
	wg          *sync.WaitGroup
	services    *Services
	logger      *zap.SugaredLogger
	controllers []Controller
}

func (c *controllerManager) StartControllers() error {
	c.logger.Info("Starting controller manager...")

	for _, controller := range c.controllers {
		err := controller.StartController()
		if err != nil {
			return fmt.Errorf("error starting controller: %w", err)
		}
	}

	c.logger.Infof("Started %d controllers successfully", len(c.controllers))
	return nil
}

// createController creates a controller based on its type name
func (cm *controllerManager) createController(kind string) (Controller, error) {
	svc := cm.services
	switch kind {
	case "hub", "websocket":
		return &hubController{ctx: cm.ctx, wg: cm.wg, hub: svc.Hub}, nil
	case "poller":
		return &pollerController{ctx: cm.ctx, wg: cm.wg, poller: svc.Poller, live: svc.Config.Polling.Live}, nil
	case "restserver", "rest":
		return restserver.NewController(cm.ctx, cm.wg, svc.Config, restserver.Deps{
			Store:     svc.Store,
			Upstream:  svc.Upstream,
			Poller:    svc.Poller,
			Cache:     svc.Cache,
			Metrics:   svc.Metrics,
			Websocket: svc.Hub,
		}, cm.logger)
	default:
		return nil, fmt.Errorf("unknown controller type: %s", kind)
	}
}

type hubController struct {
	ctx context.Context
	wg  *sync.WaitGroup
	hub *hub.Hub
}

func (c *hubController) StartController() error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hub.Run(c.ctx)
	}()
	return nil
}

type pollerController struct {
	ctx    context.Context
	wg     *sync.WaitGroup
	poller *poller.Poller
	live   bool
}

func (c *pollerController) StartController() error {
	if err := c.poller.Start(c.ctx, c.live); err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-c.ctx.Done()
		c.poller.Stop()
	}()
	return nil
}
