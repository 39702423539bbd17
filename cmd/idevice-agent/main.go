// Command idevice-agent is a long-running process that holds one
// instruments RPC session open against a device's sysmontap/graphics.opengl
// channels and republishes the latest telemetry sample over gRPC streaming
// and a gin HTTP snapshot endpoint (SPEC_FULL.md §4.11), grounded in the
// teacher's cmd/driver/hasher-host/main.go (gin API + graceful shutdown)
// and internal/driver/host/bridge.go (gRPC client/server wiring).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"

	"idevicekit"
	"idevicekit/internal/agentpb"
	"idevicekit/internal/config"
	"idevicekit/internal/telemetry"
)

var (
	grpcPort   = flag.Int("grpc-port", 7772, "gRPC telemetry service port")
	httpPort   = flag.Int("http-port", 7773, "HTTP snapshot/health API port")
	udid       = flag.String("udid", "", "target device udid/serial (empty = first device)")
	pid        = flag.Int64("pid", 0, "target process id to track CPU/mem for")
	pollEvery  = flag.Duration("device-poll", 300*time.Millisecond, "mux Process() poll interval while waiting for the device")
	waitTries  = flag.Int("wait-attempts", 20, "number of poll attempts before giving up on finding the device")
)

// agentServer implements agentpb.AgentServiceServer over a single
// Profiler, the telemetry analog of the teacher's HasherServer.
type agentServer struct {
	agentpb.UnimplementedAgentServiceServer

	deviceID  string
	serial    string
	profiler  *telemetry.Profiler
	startedAt time.Time
}

func newAgentServer(deviceID, serial string, profiler *telemetry.Profiler) *agentServer {
	return &agentServer{
		deviceID:  deviceID,
		serial:    serial,
		profiler:  profiler,
		startedAt: time.Now(),
	}
}

func (s *agentServer) snapshot() agentpb.TelemetrySample {
	sample := s.profiler.Snapshot()
	return agentpb.TelemetrySample{
		DeviceID:        s.deviceID,
		Timestamp:       timestamppb.Now(),
		CPUPercent:      sample.CPUUsage,
		MemoryUsedBytes: uint64(sample.PSSMemMB * 1024 * 1024),
		FPS:             sample.FPS,
	}
}

func (s *agentServer) GetSnapshot(ctx context.Context, req *agentpb.SnapshotRequest) (*agentpb.TelemetrySample, error) {
	sample := s.snapshot()
	return &sample, nil
}

func (s *agentServer) ListDevices(ctx context.Context, req *agentpb.ListDevicesRequest) (*agentpb.ListDevicesResponse, error) {
	return &agentpb.ListDevicesResponse{Devices: []agentpb.DeviceSummary{{DeviceID: s.deviceID, Serial: s.serial}}}, nil
}

func (s *agentServer) StreamTelemetry(req *agentpb.StreamRequest, stream agentpb.AgentService_StreamTelemetryServer) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
			sample := s.snapshot()
			if err := stream.Send(&sample); err != nil {
				return err
			}
		}
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	handle, err := idevicekit.FindDevice(cfg, *udid, *pollEvery, *waitTries)
	if err != nil {
		log.Fatalf("find device: %v", err)
	}

	session, err := idevicekit.StartLockdown(cfg, handle)
	if err != nil {
		log.Fatalf("start lockdown: %v", err)
	}
	defer session.Close()

	service, err := idevicekit.StartService(session, "com.apple.instruments.remoteserver", false)
	if err != nil {
		log.Fatalf("start instruments service: %v", err)
	}

	rpc := idevicekit.RPCFromService(service, nil)
	defer rpc.Stop()

	profiler := telemetry.NewProfiler(*pid)
	if err := profiler.Start(rpc); err != nil {
		log.Fatalf("start telemetry profiler: %v", err)
	}

	server := newAgentServer(fmt.Sprintf("%d", handle.DeviceID), handle.SerialString(), profiler)

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(agentpb.Codec))
	agentpb.RegisterAgentServiceServer(grpcServer, server)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *grpcPort))
	if err != nil {
		log.Fatalf("listen grpc: %v", err)
	}
	go func() {
		log.Printf("gRPC telemetry service listening on :%d", *grpcPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("grpc server stopped: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": time.Since(server.startedAt).String()})
	})
	router.GET("/snapshot", func(c *gin.Context) {
		c.JSON(http.StatusOK, server.snapshot())
	})
	router.GET("/devices", func(c *gin.Context) {
		resp, _ := server.ListDevices(c.Request.Context(), &agentpb.ListDevicesRequest{})
		c.JSON(http.StatusOK, resp)
	})

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", *httpPort), Handler: router}
	go func() {
		log.Printf("HTTP snapshot API listening on :%d", *httpPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down idevice-agent...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
	grpcServer.GracefulStop()
}
