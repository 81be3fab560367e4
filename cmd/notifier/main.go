package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jun/sealedletter/internal/app"
)

// The notifier function is subscribed to the Letters table stream
// (NEW_AND_OLD_IMAGES). Deploy the API with NOTIFY_DELIVERY=stream so it
// leaves the emails to this function.
func main() {
	application := app.NewApp(context.Background())
	lambda.Start(application.HandleStream)
}
