package storage

import (
	_ "embed"
)

const (
	insertFlightSQL = `
INSERT INTO flights (
                     start_time,
                     vehicle,
                     address,
                     config)
VALUES (?, ?, ?, ?)`

	finishFlightSQL = `
UPDATE flights
SET end_time         = ?,
    origin_latitude  = ?,
    origin_longitude = ?,
    origin_altitude  = ?,
    outcome          = ?
WHERE
    id = ?`

	selectFlightSQL = `
SELECT
    id,
    start_time,
    vehicle,
    address,
    config,
    end_time,
    origin_latitude,
    origin_longitude,
    origin_altitude,
    outcome
FROM flights
WHERE
    id = ?`

	selectFlightsSQL = `
SELECT
    id,
    start_time,
    vehicle,
    address,
    config,
    end_time,
    origin_latitude,
    origin_longitude,
    origin_altitude,
    outcome
FROM flights
ORDER BY id`

	insertFrameSQL = `
INSERT INTO frames (flight_id,
                    timestamp,
                    flight_time,
                    east,
                    north,
                    up,
                    latitude,
                    longitude,
                    temperature)
VALUES `

	insertEventSQL = `
INSERT INTO events (flight_id,
                    timestamp,
                    phase,
                    message)
VALUES (?, ?, ?, ?)`

	selectEventsSQL = `
SELECT
    timestamp,
    phase,
    message
FROM events
WHERE
    flight_id = ?
ORDER BY id`

	selectFlightTimeRangeSQL = `
SELECT
    COALESCE(MIN(flight_time), 0),
    COALESCE(MAX(flight_time), 0)
FROM frames
WHERE
    flight_id = ?`

	selectFramesSQL = `
SELECT
    timestamp,
    flight_time,
    east,
    north,
    up,
    latitude,
    longitude,
    temperature
FROM frames
WHERE
    flight_id = ?
    AND flight_time BETWEEN ? AND ?
    AND up BETWEEN ? AND ?
ORDER BY flight_time, id`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_frames_flight_time ON frames (flight_id, flight_time);
CREATE INDEX IF NOT EXISTS idx_events_flight ON events (flight_id);`
)

//go:embed schema.sql
var initSchemaSQL string
