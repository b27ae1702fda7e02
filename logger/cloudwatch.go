package logger

import (
	"context"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	jsoniter "github.com/json-iterator/go"
)

const defaultNamespace = "CryptoCSV"

// cwClient stays nil until InitCloudWatch succeeds; publishing is a no-op before that.
var (
	cwMu        sync.RWMutex
	cwClient    *cloudwatch.Client
	cwNamespace = defaultNamespace
)

// dashboardMetrics are the counters shown on the dashboard InitCloudWatch creates.
var dashboardMetrics = []string{"Fetches", "RowsWritten", "FetchErrors", "RateLimited", "WorkerExits"}

// InitCloudWatch enables metric publishing. An empty region falls back to
// AWS_REGION. Failures are logged and leave publishing disabled.
func InitCloudWatch(ctx context.Context, region, namespace string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	cwMu.Lock()
	cwClient = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		cwNamespace = namespace
	}
	ns := cwNamespace
	cwMu.Unlock()

	log.WithFields(Fields{"region": region, "namespace": ns}).Info("cloudwatch publishing enabled")
	putDashboard(ctx)
}

func currentClient() (*cloudwatch.Client, string) {
	cwMu.RLock()
	defer cwMu.RUnlock()
	return cwClient, cwNamespace
}

func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	client, ns := currentClient()
	if client == nil || len(data) == 0 {
		return
	}
	if _, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(ns),
		MetricData: data,
	}); err != nil {
		GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}

type dashboardWidget struct {
	Type       string         `json:"type"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Properties map[string]any `json:"properties"`
}

func dashboardBody(namespace string) (string, error) {
	metrics := make([][]string, 0, len(dashboardMetrics))
	for _, m := range dashboardMetrics {
		metrics = append(metrics, []string{namespace, m})
	}
	body := map[string][]dashboardWidget{
		"widgets": {{
			Type:   "metric",
			Width:  24,
			Height: 6,
			Properties: map[string]any{
				"metrics": metrics,
				"period":  60,
				"stat":    "Sum",
				"title":   "cryptocsv collection",
			},
		}},
	}
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(body)
	return string(b), err
}

func putDashboard(ctx context.Context) {
	client, ns := currentClient()
	if client == nil {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	body, err := dashboardBody(ns)
	if err != nil {
		log.WithError(err).Warn("failed to render CloudWatch dashboard")
		return
	}
	if _, err := client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(ns),
		DashboardBody: aws.String(body),
	}); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
