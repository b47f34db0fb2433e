/*
The sync package reconciles the origin dump with the warehouse.

Each pass takes three fresh snapshots of the same window of hourly slots:
1) Origin files -- the files listed in the dump's monthly manifests.
2) Warehouse files -- the files already copied into the warehouse's
   y=/ym=/ymd=/h= directories.
3) Partitions -- the hour directories registered with Hive.

A slot present at the origin but absent from the warehouse is downloaded,
verified against its manifest checksum, uploaded, and registered. Slots with
files but no partition are registered by the repair pass. Nothing is cached
between passes, so re-running a pass is how failures are retried.
*/
package sync
