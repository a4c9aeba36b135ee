// Package grpc implements the TripService gRPC server: history days and
// routes, a live position stream, and async trip report jobs.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/stuartshay/trip-tracker/internal/calculator"
	"github.com/stuartshay/trip-tracker/internal/config"
	"github.com/stuartshay/trip-tracker/internal/queue"
	"github.com/stuartshay/trip-tracker/internal/report"
	"github.com/stuartshay/trip-tracker/internal/session"
	"github.com/stuartshay/trip-tracker/internal/store"
)

var _ TripServiceServer = (*Server)(nil)

// Server implements the TripService gRPC server
type Server struct {
	cfg     *config.Config
	history session.HistoryStore
	feed    session.LiveFeed
	queue   *queue.Queue
}

// NewServer creates a new gRPC server instance backed by a history store and
// a live feed
func NewServer(cfg *config.Config, history session.HistoryStore, feed session.LiveFeed) *Server {
	s := &Server{
		cfg:     cfg,
		history: history,
		feed:    feed,
	}

	s.queue = queue.NewQueue(cfg.QueueWorkers, s.processTripJob)

	return s
}

// vehicleID falls back to the configured vehicle and rejects IDs that could
// escape the report directory
func (s *Server) vehicleID(requested string) (string, error) {
	if requested == "" {
		return s.cfg.VehicleID, nil
	}
	if err := report.ValidateVehicleID(requested); err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	return requested, nil
}

func validateDate(date string) error {
	if date == "" {
		return status.Error(codes.InvalidArgument, "date is required")
	}
	if _, err := time.Parse(store.DateLayout, date); err != nil {
		return status.Errorf(codes.InvalidArgument, "date must be YYYY-MM-DD: %q", date)
	}
	return nil
}

// toStatus maps domain errors onto gRPC status codes
func toStatus(err error) error {
	switch {
	case errors.Is(err, queue.ErrJobNotFound), errors.Is(err, session.ErrUnknownDate):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// CalculateTrip initiates an async trip report job
func (s *Server) CalculateTrip(ctx context.Context, req *CalculateTripRequest) (*CalculateTripResponse, error) {
	log.Info().
		Str("date", req.Date).
		Str("vehicle_id", req.VehicleID).
		Msg("Received trip report request")

	vehicleID, err := s.vehicleID(req.VehicleID)
	if err != nil {
		return nil, err
	}

	if err := validateDate(req.Date); err != nil {
		return nil, err
	}

	jobID, err := s.queue.Enqueue(req.Date, vehicleID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to enqueue job")
		return nil, toStatus(fmt.Errorf("failed to enqueue job: %w", err))
	}

	return &CalculateTripResponse{
		JobID:    jobID,
		Status:   string(queue.StatusQueued),
		QueuedAt: timestamppb.Now(),
	}, nil
}

// GetJobStatus returns the current status of a trip report job
func (s *Server) GetJobStatus(ctx context.Context, req *GetJobStatusRequest) (*GetJobStatusResponse, error) {
	job, err := s.queue.GetJob(req.JobID)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &GetJobStatusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		QueuedAt:     timestamppb.New(job.QueuedAt),
		ErrorMessage: job.ErrorMessage,
	}

	if job.StartedAt != nil {
		resp.StartedAt = timestamppb.New(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = timestamppb.New(*job.CompletedAt)
	}

	if job.Result != nil {
		resp.Result = &JobResult{
			CSVPath:          job.Result.CSVPath,
			TotalDistanceKm:  job.Result.TotalDistanceKM,
			MaxSpeedKmh:      job.Result.MaxSpeedKmh,
			AvgSpeedKmh:      job.Result.AvgSpeedKmh,
			TotalSamples:     int32(job.Result.TotalSamples),
			SpeedSamples:     int32(job.Result.SpeedSamples),
			Date:             job.Date,
			VehicleID:        job.VehicleID,
			ProcessingTimeMs: job.Result.ProcessingTimeMS,
		}
	}

	return resp, nil
}

// ListJobs returns report jobs with optional status filtering, newest first
func (s *Server) ListJobs(ctx context.Context, req *ListJobsRequest) (*ListJobsResponse, error) {
	limit := int(req.Limit)
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	offset := int(req.Offset)
	if offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset must not be negative")
	}

	jobs := s.queue.ListJobs(queue.JobStatus(req.Status), limit, offset)

	resp := &ListJobsResponse{
		Jobs:   make([]*JobSummary, 0, len(jobs)),
		Limit:  int32(limit),
		Offset: int32(offset),
	}

	for _, job := range jobs {
		summary := &JobSummary{
			JobID:     job.ID,
			Status:    string(job.Status),
			Date:      job.Date,
			VehicleID: job.VehicleID,
			QueuedAt:  timestamppb.New(job.QueuedAt),
		}
		if job.CompletedAt != nil {
			summary.CompletedAt = timestamppb.New(*job.CompletedAt)
		}
		resp.Jobs = append(resp.Jobs, summary)
	}

	resp.TotalCount = int32(len(jobs))

	return resp, nil
}

// ListDates returns the days with recorded history for a vehicle
func (s *Server) ListDates(ctx context.Context, req *ListDatesRequest) (*ListDatesResponse, error) {
	vehicleID, err := s.vehicleID(req.VehicleID)
	if err != nil {
		return nil, err
	}

	dates, err := s.history.Dates(ctx, vehicleID)
	if err != nil {
		log.Error().Err(err).Str("vehicle_id", vehicleID).Msg("Failed to list history dates")
		return nil, toStatus(err)
	}

	sorted := slices.Clone(dates)
	slices.Sort(sorted)
	if sorted == nil {
		sorted = []string{}
	}

	return &ListDatesResponse{VehicleID: vehicleID, Dates: sorted}, nil
}

// GetTrip aggregates one recorded day. Days outside the date list are
// NotFound.
func (s *Server) GetTrip(ctx context.Context, req *GetTripRequest) (*GetTripResponse, error) {
	vehicleID, err := s.vehicleID(req.VehicleID)
	if err != nil {
		return nil, err
	}
	if err := validateDate(req.Date); err != nil {
		return nil, err
	}

	dates, err := s.history.Dates(ctx, vehicleID)
	if err != nil {
		return nil, toStatus(err)
	}
	if !slices.Contains(dates, req.Date) {
		return nil, toStatus(fmt.Errorf("%w: %s", session.ErrUnknownDate, req.Date))
	}

	samples, err := s.history.Day(ctx, vehicleID, req.Date)
	if err != nil {
		log.Error().Err(err).Str("date", req.Date).Msg("Failed to load history day")
		return nil, toStatus(err)
	}

	trip := calculator.Aggregate(samples)

	resp := &GetTripResponse{
		VehicleID: vehicleID,
		Date:      req.Date,
		Path:      trip.Path,
		Metrics:   metricsDTO(trip.Metrics),
		Samples:   int32(len(trip.Samples)),
	}
	if resp.Path == nil {
		resp.Path = calculator.Path{}
	}
	if start, ok := trip.Start(); ok && len(trip.Path) > 1 {
		resp.Start = &start
	}

	return resp, nil
}

// StreamLive relays accepted live positions until the client goes away or
// the feed ends
func (s *Server) StreamLive(req *StreamLiveRequest, stream grpc.ServerStreamingServer[LivePosition]) error {
	ctx := stream.Context()
	vehicleID, err := s.vehicleID(req.VehicleID)
	if err != nil {
		return err
	}

	updates, err := session.Follow(ctx, s.feed, vehicleID)
	if err != nil {
		log.Error().Err(err).Str("vehicle_id", vehicleID).Msg("Failed to follow live feed")
		return status.Error(codes.Unavailable, err.Error())
	}

	log.Debug().Str("vehicle_id", vehicleID).Msg("Live stream opened")
	for update := range updates {
		msg := &LivePosition{
			Lat:        update.Position.Lat(),
			Lng:        update.Position.Lng(),
			PathLength: int32(update.PathLength),
			ReceivedAt: timestamppb.Now(),
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return toStatus(err)
	}
	return nil
}

func metricsDTO(m calculator.TripMetrics) *TripMetrics {
	return &TripMetrics{
		TotalDistanceKm: m.TotalDistanceKm(),
		MaxSpeedKmh:     m.MaxSpeedKmh,
		AvgSpeedKmh:     m.AvgSpeedKmh,
		SpeedSamples:    int32(m.SpeedSamples),
	}
}

// processTripJob is the worker function that builds trip reports
func (s *Server) processTripJob(ctx context.Context, job *queue.Job) (*queue.JobResult, error) {
	log.Info().
		Str("job_id", job.ID).
		Str("date", job.Date).
		Str("vehicle_id", job.VehicleID).
		Msg("Processing trip report job")

	samples, err := s.history.Day(ctx, job.VehicleID, job.Date)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch history day")
		return nil, fmt.Errorf("history query failed: %w", err)
	}

	if len(samples) == 0 {
		log.Warn().Str("date", job.Date).Msg("No samples found for date")
		return nil, fmt.Errorf("no samples found for date %s", job.Date)
	}

	trip := calculator.Aggregate(samples)

	log.Info().
		Float64("total_distance_km", trip.Metrics.TotalDistanceKm()).
		Float64("max_speed_kmh", trip.Metrics.MaxSpeedKmh).
		Float64("avg_speed_kmh", trip.Metrics.AvgSpeedKmh).
		Int("samples", len(trip.Samples)).
		Msg("Trip metrics calculated")

	csvPath, err := report.WriteTripCSV(s.cfg.CSVOutputPath, job.VehicleID, job.Date, trip)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate CSV file")
		return nil, fmt.Errorf("CSV generation failed: %w", err)
	}

	return &queue.JobResult{
		CSVPath:         csvPath,
		TotalDistanceKM: trip.Metrics.TotalDistanceKm(),
		MaxSpeedKmh:     trip.Metrics.MaxSpeedKmh,
		AvgSpeedKmh:     trip.Metrics.AvgSpeedKmh,
		TotalSamples:    len(trip.Samples),
		SpeedSamples:    trip.Metrics.SpeedSamples,
	}, nil
}

// Stats exposes queue counters
func (s *Server) Stats() map[string]int {
	return s.queue.GetStats()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.queue.Shutdown(timeout)
}
