// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry bundles the otel tracer and a small set of counters,
// matching the shape of the teacher's instrumentation.Tracer/metric.Counter
// usage in internal/server. The counters are registered here; no code in
// this module increments them.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation is the bundle of tracer and counters threaded through the
// context so every layer (dispatcher, transports, task subsystem) can emit
// spans and increment counters without importing otel setup directly.
type Instrumentation struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	RequestsHandled    metric.Int64Counter
	NotificationsSent  metric.Int64Counter
	TasksCreated       metric.Int64Counter
	TasksCompleted     metric.Int64Counter
	RequestsCancelled  metric.Int64Counter
}

// NewInstrumentation builds an Instrumentation bundle backed by the given
// tracer/meter providers (or the global ones if nil), registering its five
// counters; nothing in this module adds to them.
func NewInstrumentation(tp trace.TracerProvider, mp metric.MeterProvider, serviceName string) (*Instrumentation, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	tracer := tp.Tracer(serviceName)
	meter := mp.Meter(serviceName)

	requestsHandled, err := meter.Int64Counter(
		"neva.requests.handled",
		metric.WithDescription("Number of JSON-RPC requests the dispatcher answered."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create requests.handled counter: %w", err)
	}
	notificationsSent, err := meter.Int64Counter(
		"neva.notifications.sent",
		metric.WithDescription("Number of JSON-RPC notifications emitted."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create notifications.sent counter: %w", err)
	}
	tasksCreated, err := meter.Int64Counter(
		"neva.tasks.created",
		metric.WithDescription("Number of durable tasks created by task-augmented calls."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create tasks.created counter: %w", err)
	}
	tasksCompleted, err := meter.Int64Counter(
		"neva.tasks.completed",
		metric.WithDescription("Number of durable tasks reaching a terminal status."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create tasks.completed counter: %w", err)
	}
	requestsCancelled, err := meter.Int64Counter(
		"neva.requests.cancelled",
		metric.WithDescription("Number of in-flight requests cancelled before completion."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create requests.cancelled counter: %w", err)
	}

	return &Instrumentation{
		Tracer:            tracer,
		Meter:             meter,
		RequestsHandled:   requestsHandled,
		NotificationsSent: notificationsSent,
		TasksCreated:      tasksCreated,
		TasksCompleted:    tasksCompleted,
		RequestsCancelled: requestsCancelled,
	}, nil
}

// NewTracerProvider builds a minimal in-process tracer provider, used when
// no OTLP collector endpoint is configured (the common case for a CLI-run
// server). It never exports spans off-box; callers that want OTLP export
// should construct their own sdktrace.TracerProvider with an otlptrace
// exporter and pass it to NewInstrumentation instead.
func NewTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("unable to build otel resource: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
}

// Shutdown tears down whatever exporters SetupOTel wired up, flushing any
// buffered spans/metrics. It is a no-op bundle when otlpEndpoint was empty.
type Shutdown func(ctx context.Context) error

// SetupOTel wires an OTLP/HTTP trace and metric pipeline pointed at
// otlpEndpoint (host:port, no scheme), the way the teacher's
// telemetry.SetupOTel dispatches between its GCP and OTLP exporters; this
// runtime carries only the OTLP path forward (see DESIGN.md). An empty
// otlpEndpoint leaves the global providers untouched and returns a no-op
// shutdown.
func SetupOTel(ctx context.Context, serviceName, otlpEndpoint string) (Shutdown, error) {
	if otlpEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("unable to build otel resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(otlpEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("unable to create otlp trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(otlpEndpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("unable to create otlp metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(mp)

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shut down tracer provider: %w", err)
		}
		if err := mp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shut down meter provider: %w", err)
		}
		return nil
	}, nil
}
