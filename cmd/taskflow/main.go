package main

import (
	"log"

	"taskflow/internal/app"
)

// @title                       Taskflow API
// @version                     1.0
// @description                 Task lifecycle engine: numbering, status transitions, assignment and the activity log.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
