package interceptor

import (
	"fmt"
	"strings"
)

// splitFullMethod extracts the service and method parts from a full method
// path of the form "/package.Service/Method".
func splitFullMethod(fullMethod string) (service, method string, err error) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) != 3 || parts[0] != "" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid method path: %q", fullMethod)
	}
	return parts[1], parts[2], nil
}

// metricLabels returns prometheus-safe service and endpoint labels for a full
// method path. Malformed paths collapse to "unknown" rather than poisoning
// the metric namespace.
func metricLabels(fullMethod string) (service, endpoint string) {
	svc, method, err := splitFullMethod(fullMethod)
	if err != nil {
		return "unknown", "unknown"
	}
	return strings.ReplaceAll(svc, ".", "_"), strings.ReplaceAll(method, ".", "_")
}
