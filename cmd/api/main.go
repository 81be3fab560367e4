package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jun/sealedletter/internal/app"
)

func main() {
	application := app.NewApp(context.Background())
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := application.HandleRequest(ctx, req)
		// Lambda freezes the process once the handler returns, so background
		// jobs are flushed first. With NOTIFY_DELIVERY=stream these are only
		// the viewed_at writes; inline delivery also waits for Gmail.
		application.Wait()
		return resp, err
	})
}
