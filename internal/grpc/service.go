package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/stuartshay/trip-tracker/internal/calculator"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "trip.v1.TripService"

const (
	methodCalculateTrip = "/" + ServiceName + "/CalculateTrip"
	methodGetJobStatus  = "/" + ServiceName + "/GetJobStatus"
	methodListJobs      = "/" + ServiceName + "/ListJobs"
	methodListDates     = "/" + ServiceName + "/ListDates"
	methodGetTrip       = "/" + ServiceName + "/GetTrip"
	methodStreamLive    = "/" + ServiceName + "/StreamLive"
)

// CalculateTripRequest asks for an async trip report of one day
type CalculateTripRequest struct {
	Date      string `json:"date"`
	VehicleID string `json:"vehicle_id,omitempty"`
}

// CalculateTripResponse acknowledges a queued report job
type CalculateTripResponse struct {
	JobID    string                 `json:"job_id"`
	Status   string                 `json:"status"`
	QueuedAt *timestamppb.Timestamp `json:"queued_at,omitempty"`
}

// GetJobStatusRequest identifies a report job
type GetJobStatusRequest struct {
	JobID string `json:"job_id"`
}

// JobResult is the outcome of a completed report job
type JobResult struct {
	CSVPath          string  `json:"csv_path"`
	TotalDistanceKm  float64 `json:"total_distance_km"`
	MaxSpeedKmh      float64 `json:"max_speed_kmh"`
	AvgSpeedKmh      float64 `json:"avg_speed_kmh"`
	TotalSamples     int32   `json:"total_samples"`
	SpeedSamples     int32   `json:"speed_samples"`
	Date             string  `json:"date"`
	VehicleID        string  `json:"vehicle_id"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// GetJobStatusResponse describes a report job
type GetJobStatusResponse struct {
	JobID        string                 `json:"job_id"`
	Status       string                 `json:"status"`
	QueuedAt     *timestamppb.Timestamp `json:"queued_at,omitempty"`
	StartedAt    *timestamppb.Timestamp `json:"started_at,omitempty"`
	CompletedAt  *timestamppb.Timestamp `json:"completed_at,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Result       *JobResult             `json:"result,omitempty"`
}

// ListJobsRequest filters and pages report jobs
type ListJobsRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int32  `json:"limit,omitempty"`
	Offset int32  `json:"offset,omitempty"`
}

// JobSummary is one row of ListJobs
type JobSummary struct {
	JobID       string                 `json:"job_id"`
	Status      string                 `json:"status"`
	Date        string                 `json:"date"`
	VehicleID   string                 `json:"vehicle_id"`
	QueuedAt    *timestamppb.Timestamp `json:"queued_at,omitempty"`
	CompletedAt *timestamppb.Timestamp `json:"completed_at,omitempty"`
}

// ListJobsResponse is a page of jobs, newest first
type ListJobsResponse struct {
	Jobs       []*JobSummary `json:"jobs"`
	TotalCount int32         `json:"total_count"`
	Limit      int32         `json:"limit"`
	Offset     int32         `json:"offset"`
}

// ListDatesRequest names the vehicle whose history days are listed
type ListDatesRequest struct {
	VehicleID string `json:"vehicle_id,omitempty"`
}

// ListDatesResponse holds history days, oldest first
type ListDatesResponse struct {
	VehicleID string   `json:"vehicle_id"`
	Dates     []string `json:"dates"`
}

// GetTripRequest asks for the aggregated route of one day
type GetTripRequest struct {
	Date      string `json:"date"`
	VehicleID string `json:"vehicle_id,omitempty"`
}

// TripMetrics are unrounded trip statistics
type TripMetrics struct {
	TotalDistanceKm float64 `json:"total_distance_km"`
	MaxSpeedKmh     float64 `json:"max_speed_kmh"`
	AvgSpeedKmh     float64 `json:"avg_speed_kmh"`
	SpeedSamples    int32   `json:"speed_samples"`
}

// GetTripResponse is a day's route and metrics
type GetTripResponse struct {
	VehicleID string             `json:"vehicle_id"`
	Date      string             `json:"date"`
	Path      calculator.Path    `json:"path"`
	Start     *calculator.LatLng `json:"start,omitempty"`
	Metrics   *TripMetrics       `json:"metrics"`
	Samples   int32              `json:"samples"`
}

// StreamLiveRequest names the vehicle to follow
type StreamLiveRequest struct {
	VehicleID string `json:"vehicle_id,omitempty"`
}

// LivePosition is one accepted live sample
type LivePosition struct {
	Lat        float64                `json:"lat"`
	Lng        float64                `json:"lng"`
	PathLength int32                  `json:"path_length"`
	ReceivedAt *timestamppb.Timestamp `json:"received_at,omitempty"`
}

// TripServiceServer is the server API for TripService
type TripServiceServer interface {
	CalculateTrip(context.Context, *CalculateTripRequest) (*CalculateTripResponse, error)
	GetJobStatus(context.Context, *GetJobStatusRequest) (*GetJobStatusResponse, error)
	ListJobs(context.Context, *ListJobsRequest) (*ListJobsResponse, error)
	ListDates(context.Context, *ListDatesRequest) (*ListDatesResponse, error)
	GetTrip(context.Context, *GetTripRequest) (*GetTripResponse, error)
	StreamLive(*StreamLiveRequest, grpc.ServerStreamingServer[LivePosition]) error
}

func unaryHandler[Req, Resp any](fullMethod string, call func(TripServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TripServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TripServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamLiveHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamLiveRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TripServiceServer).StreamLive(in, &grpc.GenericServerStream[StreamLiveRequest, LivePosition]{ServerStream: stream})
}

// TripServiceDesc describes TripService for grpc.Server registration
var TripServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TripServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CalculateTrip", Handler: unaryHandler(methodCalculateTrip, TripServiceServer.CalculateTrip)},
		{MethodName: "GetJobStatus", Handler: unaryHandler(methodGetJobStatus, TripServiceServer.GetJobStatus)},
		{MethodName: "ListJobs", Handler: unaryHandler(methodListJobs, TripServiceServer.ListJobs)},
		{MethodName: "ListDates", Handler: unaryHandler(methodListDates, TripServiceServer.ListDates)},
		{MethodName: "GetTrip", Handler: unaryHandler(methodGetTrip, TripServiceServer.GetTrip)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamLive", Handler: streamLiveHandler, ServerStreams: true},
	},
}

// RegisterTripServiceServer registers srv on s
func RegisterTripServiceServer(s grpc.ServiceRegistrar, srv TripServiceServer) {
	s.RegisterService(&TripServiceDesc, srv)
}

// TripServiceClient calls TripService using the JSON codec
type TripServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTripServiceClient wraps a client connection
func NewTripServiceClient(cc grpc.ClientConnInterface) *TripServiceClient {
	return &TripServiceClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// CalculateTrip queues a trip report
func (c *TripServiceClient) CalculateTrip(ctx context.Context, in *CalculateTripRequest, opts ...grpc.CallOption) (*CalculateTripResponse, error) {
	return invoke[CalculateTripResponse](ctx, c.cc, methodCalculateTrip, in, opts)
}

// GetJobStatus fetches a report job
func (c *TripServiceClient) GetJobStatus(ctx context.Context, in *GetJobStatusRequest, opts ...grpc.CallOption) (*GetJobStatusResponse, error) {
	return invoke[GetJobStatusResponse](ctx, c.cc, methodGetJobStatus, in, opts)
}

// ListJobs pages report jobs
func (c *TripServiceClient) ListJobs(ctx context.Context, in *ListJobsRequest, opts ...grpc.CallOption) (*ListJobsResponse, error) {
	return invoke[ListJobsResponse](ctx, c.cc, methodListJobs, in, opts)
}

// ListDates lists history days
func (c *TripServiceClient) ListDates(ctx context.Context, in *ListDatesRequest, opts ...grpc.CallOption) (*ListDatesResponse, error) {
	return invoke[ListDatesResponse](ctx, c.cc, methodListDates, in, opts)
}

// GetTrip fetches a day's route and metrics
func (c *TripServiceClient) GetTrip(ctx context.Context, in *GetTripRequest, opts ...grpc.CallOption) (*GetTripResponse, error) {
	return invoke[GetTripResponse](ctx, c.cc, methodGetTrip, in, opts)
}

// StreamLive follows a vehicle's live positions
func (c *TripServiceClient) StreamLive(ctx context.Context, in *StreamLiveRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[LivePosition], error) {
	stream, err := c.cc.NewStream(ctx, &TripServiceDesc.Streams[0], methodStreamLive, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[StreamLiveRequest, LivePosition]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
