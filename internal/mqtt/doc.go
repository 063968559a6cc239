// Package mqtt publishes the bot's health to Home Assistant over MQTT.
// The bot shows up as a device with sensors for uptime, version,
// conversation and reminder counts, and the outcome of the last
// scheduler tick.
//
// Connection management uses Eclipse Paho v2's [autopaho] package. On
// every (re-)connect the publisher sends retained discovery configs
// and an "online" birth message; a will message flips availability to
// "offline" if the process dies.
package mqtt
