package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/capsense/proximity/sx9310"
	"github.com/capsense/proximity/sx9310/sensoropen"
)

func main() {
	device := flag.String("device", "platform:/dev/i2c-1", "Sensor path (platform:BUS[:IRQPIN[:ADDR]] or usb[:ADDR])")
	channel := flag.Int("channel", 0, "Channel to read (0-3)")
	verbose := flag.Bool("verbose", false, "Log register traffic")

	flag.Parse()

	var cfg sx9310.Config
	if *verbose {
		cfg.Log = log.Printf
	}

	d, err := sensoropen.Open(*device, cfg)
	if err != nil {
		log.Fatalln("Failed to open sensor:", err)
	}
	defer d.Close()

	log.Printf("Found %s", d.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	val, err := d.ReadProximity(ctx, *channel)
	if err != nil {
		log.Fatalln("Failed to read proximity:", err)
	}

	log.Printf("Channel %d: %d", *channel, val)
}
