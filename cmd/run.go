package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/warden/internal/auth"
	"github.com/andresmejia3/warden/internal/backend"
	"github.com/andresmejia3/warden/internal/frame"
	"github.com/andresmejia3/warden/internal/gallery"
	"github.com/andresmejia3/warden/internal/handoff"
	"github.com/andresmejia3/warden/internal/locker"
	"github.com/andresmejia3/warden/internal/pipeline"
	"github.com/andresmejia3/warden/internal/render"
	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/utils"
	"github.com/andresmejia3/warden/internal/vision"
	"github.com/andresmejia3/warden/internal/worker"
)

var runOpts struct {
	Addr     string
	Camera   string
	NoLocker bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the kiosk: camera, verification loop and screen server",
	Run: func(cmd *cobra.Command, args []string) {
		if runOpts.Addr != "" {
			Cfg.RenderAddr = runOpts.Addr
		}
		if runOpts.Camera != "" {
			Cfg.CameraDevice = runOpts.Camera
		}
		if runOpts.NoLocker {
			Cfg.LockerPort = ""
		}
		if err := runKiosk(cmd.Context()); err != nil {
			utils.Die("Kiosk stopped", err, nil)
		}
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.Addr, "addr", "a", "", "Screen server listen address (default: $RENDER_ADDR)")
	runCmd.Flags().StringVarP(&runOpts.Camera, "camera", "c", "", "Camera index or device path (default: $CAMERA_DEVICE)")
	runCmd.Flags().BoolVar(&runOpts.NoLocker, "no-locker", false, "Do not drive the locker relay even if LOCKER_PORT is set")
	rootCmd.AddCommand(runCmd)
}

func runKiosk(ctx context.Context) error {
	log := Logger

	// 1. Operator credentials. A missing session is not fatal; confirmations fail until someone signs in.
	sess := auth.NewSession(DB)
	if creds, err := sess.Restore(ctx); err != nil {
		switch {
		case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrExpired):
			fmt.Fprintln(os.Stderr, "⚠️  No operator is signed in. Run `warden login` so the kiosk can confirm transactions.")
			log.Warn("operator session unavailable", "error", err)
		default:
			return fmt.Errorf("restore operator session: %w", err)
		}
	} else {
		log.Info("operator session restored", "user", creds.Username, "expires_at", creds.ExpiresAt)
	}
	client := backend.NewClient(backendConfig(Cfg), sess)

	// 2. Perception engines
	detector, err := vision.NewDetector(Cfg.DetectorModel, Cfg.DetectorScore)
	if err != nil {
		return fmt.Errorf("load face detector: %w", err)
	}
	defer detector.Close()

	embedder, closer, err := openEmbedder(Cfg)
	if err != nil {
		return fmt.Errorf("load face embedder: %w", err)
	}
	defer closer.Close()

	mesh, err := worker.NewMeshWorker(Cfg.MeshPython, Cfg.MeshScript)
	if err != nil {
		return fmt.Errorf("start mesh worker: %w", err)
	}
	defer mesh.Close()

	codes := vision.NewCodeReader()
	defer codes.Close()

	// 3. Known faces
	model := embeddingModel(Cfg)
	entries, err := DB.LoadGallery(ctx, model)
	if err != nil {
		return err
	}
	known := gallery.New(entries)
	if known.Len() == 0 {
		fmt.Fprintf(os.Stderr, "⚠️  No identities enrolled for model %s. Everyone will be Unknown; run `warden enroll`.\n", model)
	}
	fmt.Fprintf(os.Stderr, "👥 Loaded %d known identities (%s)\n", known.Len(), model)
	match, err := matcher(Cfg)
	if err != nil {
		return err
	}

	// 4. Locker and backend handoff
	relay, err := locker.Open(Cfg.LockerPort, Cfg.LockerBaud, Cfg.LockerChannel, Cfg.LockerPulse, log)
	if err != nil {
		return fmt.Errorf("open locker relay: %w", err)
	}
	defer relay.Close()
	if relay.Enabled() {
		fmt.Fprintf(os.Stderr, "🔓 Locker relay on %s channel %d\n", Cfg.LockerPort, Cfg.LockerChannel)
	}
	txns := handoff.New(client, sess, Cfg.KioskName, DB, relay, log)

	// 5. Camera
	camera := vision.NewCamera(Cfg.CameraDevice, Cfg.CameraWidth, Cfg.CameraHeight)
	defer camera.Release()
	src := frame.NewSource(camera, Cfg.FrameInterval)
	defer src.Close()
	if err := src.Open(); err != nil {
		// The pipeline shows the camera-down screen and waits for a retry.
		log.Warn("camera not available at startup", "device", Cfg.CameraDevice, "error", err)
	}

	// 6. Session machine, screen and loop
	now := time.Now()
	rng := rand.New(rand.NewPCG(uint64(now.UnixNano()), uint64(os.Getpid())))
	machine := session.New(sessionSettings(Cfg), rng, log, now)

	var loop *pipeline.Pipeline
	screen := render.New(frameEncoder(Cfg), render.RetryFunc(func() { loop.RequestRetry() }), log)

	loop, err = pipeline.New(pipelineSettings(Cfg), pipeline.Deps{
		Source: src,
		Engines: pipeline.Engines{
			Mesh:     mesh,
			Detector: detector,
			Embedder: embedder,
			Codes:    codes,
		},
		Gallery:      known,
		Matcher:      match,
		Machine:      machine,
		Transactions: txns,
		Renderer:     screen,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "🛡️  Warden kiosk running. Screen at http://%s\n", displayAddr(Cfg.RenderAddr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return screen.Listen(Cfg.RenderAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return screen.Shutdown(sctx)
	})
	g.Go(func() error {
		err := loop.Run(gctx)
		if err == nil && ctx.Err() == nil {
			// Run only returns cleanly on cancellation; make sure the screen goes down with it.
			return errors.New("verification loop exited")
		}
		return err
	})

	err = g.Wait()
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "👋 Shutting down.")
		return nil
	}
	return err
}

// displayAddr turns a listen address like ":8090" into something clickable.
func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
