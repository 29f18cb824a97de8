package main

//go:generate swag init -g cmd/dcabot/main.go -o docs

// @title           dcabot API
// @version         0.1.0
// @description     Dollar-cost averaging bot: exchanges, strategies, executions and notifications.
// @host            localhost:8080
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
