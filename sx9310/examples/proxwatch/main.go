package main

import (
	"encoding/binary"
	"flag"
	"log"
	"time"

	"github.com/capsense/proximity/sx9310"
	"github.com/capsense/proximity/sx9310/sensoropen"
)

func main() {
	device := flag.String("device", "platform:/dev/i2c-1:GPIO4", "Sensor path (platform:BUS[:IRQPIN[:ADDR]] or usb[:ADDR])")
	channels := flag.Int("channels", 0x7, "Bitmask of channels to monitor")
	buffered := flag.Bool("buffered", false, "Capture frames instead of events")

	flag.Parse()

	cfg := sx9310.Config{
		Events: func(ev sx9310.Event) {
			log.Printf("Channel %d: %s at %s", ev.Channel, ev.Direction, ev.Timestamp.Format(time.StampMicro))
		},
	}

	d, err := sensoropen.Open(*device, cfg)
	if err != nil {
		log.Fatalln("Failed to open sensor:", err)
	}
	defer d.Close()

	log.Printf("Found %s", d.Name())

	if *buffered {
		err = d.EnableBuffer(byte(*channels), func(frame []byte) {
			ts := int64(binary.BigEndian.Uint64(frame[len(frame)-8:]))
			log.Printf("Frame % x at %d", frame[:len(frame)-8], ts)
		})
		if err != nil {
			log.Fatalln("Failed to enable buffer:", err)
		}

		if err := d.SetTriggerState(true); err != nil {
			log.Fatalln("Failed to arm trigger:", err)
		}
	} else {
		for ch := 0; ch < sx9310.NumChannels; ch++ {
			if *channels&(1<<ch) == 0 {
				continue
			}
			if err := d.EnableEvent(ch, true); err != nil {
				log.Fatalln("Failed to enable events:", err)
			}
		}
	}

	log.Println("Watching, press ctrl-c to stop")
	select {}
}
