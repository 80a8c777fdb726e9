package control

import (
	"strings"
	"time"

	"github.com/core-tools/hsu-procman/pkg/domain"
	"github.com/core-tools/hsu-procman/pkg/errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const processesField = "processes"

func encodeStatuses(statuses []domain.ProcessStatus) (*structpb.Struct, error) {
	processes := make([]interface{}, 0, len(statuses))
	for _, s := range statuses {
		entry := map[string]interface{}{
			"name":           s.Name,
			"instance":       s.Instance,
			"id":             s.ID,
			"state":          s.State,
			"pid":            s.PID,
			"uptime_ms":      s.Uptime.Milliseconds(),
			"restart_count":  s.RestartCount,
			"total_restarts": s.TotalRestarts,
			"last_reason":    s.LastReason,
			"last_error":     s.LastError,
			"memory_rss":     s.MemoryRSS,
		}
		if s.LastExitCode != nil {
			entry["last_exit_code"] = *s.LastExitCode
		}
		if !s.RestartScheduledAt.IsZero() {
			entry["restart_scheduled_at"] = s.RestartScheduledAt.UTC().Format(time.RFC3339Nano)
		}
		processes = append(processes, entry)
	}

	st, err := structpb.NewStruct(map[string]interface{}{processesField: processes})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode status", err)
	}
	return st, nil
}

func decodeStatuses(st *structpb.Struct) []domain.ProcessStatus {
	values := st.GetFields()[processesField].GetListValue().GetValues()
	statuses := make([]domain.ProcessStatus, 0, len(values))
	for _, v := range values {
		fields := v.GetStructValue().GetFields()
		number := func(key string) float64 { return fields[key].GetNumberValue() }
		text := func(key string) string { return fields[key].GetStringValue() }

		s := domain.ProcessStatus{
			Name:          text("name"),
			Instance:      int(number("instance")),
			ID:            text("id"),
			State:         text("state"),
			PID:           int(number("pid")),
			Uptime:        time.Duration(number("uptime_ms")) * time.Millisecond,
			RestartCount:  int(number("restart_count")),
			TotalRestarts: int(number("total_restarts")),
			LastReason:    text("last_reason"),
			LastError:     text("last_error"),
			MemoryRSS:     int64(number("memory_rss")),
		}
		if _, ok := fields["last_exit_code"]; ok {
			code := int(number("last_exit_code"))
			s.LastExitCode = &code
		}
		if at, err := time.Parse(time.RFC3339Nano, text("restart_scheduled_at")); err == nil {
			s.RestartScheduledAt = at
		}
		statuses = append(statuses, s)
	}
	return statuses
}

// toStatusError maps a domain error onto a gRPC status. The message keeps
// the "<type>: " prefix so the client can restore the error type.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(codeForType(errors.TypeOf(err)), err.Error())
}

func codeForType(t errors.ErrorType) codes.Code {
	switch t {
	case errors.ErrorTypeNotFound:
		return codes.NotFound
	case errors.ErrorTypeValidation, errors.ErrorTypeConfig:
		return codes.InvalidArgument
	case errors.ErrorTypeConflict:
		return codes.AlreadyExists
	case errors.ErrorTypePermission:
		return codes.PermissionDenied
	case errors.ErrorTypeTimeout, errors.ErrorTypeShutdownTimeout:
		return codes.DeadlineExceeded
	case errors.ErrorTypeCancelled:
		return codes.Canceled
	case errors.ErrorTypeSpawn, errors.ErrorTypePolicyExhausted:
		return codes.FailedPrecondition
	case errors.ErrorTypeNetwork:
		return codes.Unavailable
	}
	return codes.Internal
}

// fromStatusError turns a gRPC error back into a domain error
func fromStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewNetworkError("control request failed", err)
	}

	message := st.Message()
	if t, found := errors.ParseType(message); found {
		return errors.NewDomainError(t, strings.TrimPrefix(message, string(t)+": "), nil)
	}

	switch st.Code() {
	case codes.Unavailable:
		return errors.NewNetworkError("supervisor daemon is not reachable", err)
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError("control request timed out", err)
	case codes.Canceled:
		return errors.NewCancelledError("control request cancelled", err)
	case codes.NotFound:
		return errors.NewNotFoundError(message, nil)
	}
	return errors.NewInternalError(message, nil)
}
