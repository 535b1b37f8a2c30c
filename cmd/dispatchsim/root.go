package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var opts simOptions

var rootCmd = &cobra.Command{
	Use:   "dispatchsim",
	Short: "Runs synthetic couriers and delivery requests through the dispatcher",
	Long: `dispatchsim generates a courier fleet and a stream of delivery requests around a city
center, assigns them with the dispatch kernel, drives every courier through pickup and
dropoff, and prints assignment and routing statistics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := runSimulation(cmd.Context(), opts)
		if err != nil {
			return err
		}
		report.Print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	f := rootCmd.Flags()
	f.Int64Var(&opts.Seed, "seed", 42, "Random seed for fleet and request generation")
	f.IntVar(&opts.Couriers, "couriers", 20, "Number of couriers in the fleet")
	f.IntVar(&opts.Requests, "requests", 60, "Number of delivery requests")
	f.IntVar(&opts.BatchSize, "batch", 1, "Requests per assignment; above 1 uses batch assignment")
	f.Float64Var(&opts.CityLat, "city-lat", 52.5200, "City center latitude")
	f.Float64Var(&opts.CityLon, "city-lon", 13.4050, "City center longitude")
	f.Float64Var(&opts.RadiusKm, "radius-km", 8, "Radius around the center for couriers and requests")
	f.StringVar(&opts.Weather, "weather", "clear", "Weather condition: clear, cloudy, rainy, snowy, foggy or stormy")
	f.Float64Var(&opts.WindKmh, "wind", 10, "Wind speed in km/h")
	f.Float64Var(&opts.PrecipMm, "precip", 0, "Precipitation in mm/h")
	f.IntVar(&opts.Hour, "hour", 12, "Hour of day used for the traffic model")
	f.StringVar(&opts.LogLevel, "log-level", "warn", "Log level")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
